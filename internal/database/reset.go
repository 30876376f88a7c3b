package database

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ResetCollections は起動時リセットで削除するコレクション。
// セッションは残し、参照先ユーザーが消えたセッションは未認証として扱われる。
var ResetCollections = []string{"users", "courses", MigrationsCollection}

// Reset はユーザーとコースを削除し、マイグレーションを再適用してインデックスを作り直す。
// DB_RESET_ON_STARTUPが有効な場合にのみ起動時に呼ばれる。
func Reset(ctx context.Context, db *mongo.Database, uri string, logger *slog.Logger) error {
	for _, name := range ResetCollections {
		if err := db.Collection(name).Drop(ctx); err != nil {
			return fmt.Errorf("failed to drop collection %s: %w", name, err)
		}
		logger.Warn("コレクションを削除しました", slog.String("collection", name))
	}

	if err := RunMigrations(uri, db.Name()); err != nil {
		return fmt.Errorf("failed to recreate indexes: %w", err)
	}

	logger.Info("データベースをリセットしました", slog.String("database", db.Name()))
	return nil
}
