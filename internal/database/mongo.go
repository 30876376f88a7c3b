package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"
)

// 接続プールとタイムアウトの既定値
const (
	DefaultMaxPoolSize            = 10
	DefaultServerSelectionTimeout = 5 * time.Second
	DefaultOperationTimeout       = 45 * time.Second
)

// ClientOptions はMongoDBクライアントの接続オプションを組み立てる。
func ClientOptions(uri string) *options.ClientOptions {
	return options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(DefaultMaxPoolSize).
		SetServerSelectionTimeout(DefaultServerSelectionTimeout).
		SetTimeout(DefaultOperationTimeout).
		SetRetryWrites(true).
		SetWriteConcern(writeconcern.Majority())
}

// Connect はMongoDBに接続し、プライマリへのPingで疎通を確認する。
// Pingに失敗した場合はクライアントを切断してエラーを返す。
func Connect(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ClientOptions(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, DefaultServerSelectionTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, client.Database(dbName), nil
}

// Disconnect はクライアントを指定時間内に切断する。
func Disconnect(client *mongo.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect mongodb: %w", err)
	}
	return nil
}
