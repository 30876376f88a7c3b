//go:build integration

// Package testinfra は統合テスト用のコンテナを起動するヘルパーを提供する。
package testinfra

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MongoImage は統合テストで使用するMongoDBイメージ。
const MongoImage = "mongo:7.0"

// SkipIfNoDocker はDockerが利用できない環境でテストをスキップする。
func SkipIfNoDocker(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("Dockerが利用できないためスキップします")
	}
}

// StartMongo はMongoDBコンテナを起動し、接続URIを返す。
// TEST_MONGODB_URIが設定されている場合はコンテナを起動せずにその値を返す。
// コンテナはテスト終了時に停止される。
func StartMongo(t *testing.T) string {
	t.Helper()

	if uri := os.Getenv("TEST_MONGODB_URI"); uri != "" {
		return uri
	}

	SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        MongoImage,
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Waiting for connections"),
				wait.ForListeningPort("27017/tcp"),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("MongoDBコンテナの起動に失敗: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("コンテナの停止に失敗: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("コンテナのホスト取得に失敗: %v", err)
	}
	port, err := container.MappedPort(ctx, "27017/tcp")
	if err != nil {
		t.Fatalf("コンテナのポート取得に失敗: %v", err)
	}

	return fmt.Sprintf("mongodb://%s:%s", host, port.Port())
}

// UniqueDBName はテストごとに衝突しないデータベース名を返す。
func UniqueDBName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}
