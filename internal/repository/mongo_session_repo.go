package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hitoshi/codetutor/internal/model"
)

const sessionCollection = "sessions"

// sessionDocument はセッションの保存形式。
// ユーザーIDはインデックス対象として最上位に置き、その他の値はdataサブドキュメントに保持する。
type sessionDocument struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"userId,omitempty"`
	Data      bson.D    `bson:"data"`
	Expires   time.Time `bson:"expires"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func toSessionDocument(s *model.Session) (*sessionDocument, error) {
	data := bson.D{}
	if len(s.Data) > 0 {
		b, err := gojson.Marshal(s.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode session data: %w", err)
		}
		// 値はJSONなので、relaxed Extended JSONとしてそのままドキュメントに変換できる
		if err := bson.UnmarshalExtJSON(b, false, &data); err != nil {
			return nil, fmt.Errorf("failed to convert session data: %w", err)
		}
	}
	return &sessionDocument{
		ID:        s.ID,
		UserID:    s.UserID,
		Data:      data,
		Expires:   s.Expires.UTC(),
		CreatedAt: s.CreatedAt.UTC(),
		UpdatedAt: s.UpdatedAt.UTC(),
	}, nil
}

func (d *sessionDocument) toModel() (*model.Session, error) {
	data := map[string]json.RawMessage{}
	if len(d.Data) > 0 {
		b, err := bson.MarshalExtJSON(d.Data, false, false)
		if err != nil {
			return nil, fmt.Errorf("failed to convert session data: %w", err)
		}
		if err := gojson.Unmarshal(b, &data); err != nil {
			return nil, fmt.Errorf("failed to decode session data: %w", err)
		}
	}
	return &model.Session{
		ID:        d.ID,
		UserID:    d.UserID,
		Data:      data,
		Expires:   d.Expires,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

// MongoSessionRepo はMongoDBを使用したセッションリポジトリ。
// 期限切れの削除はidx_expiresのTTLに任せ、読み取り時にも期限を確認する。
type MongoSessionRepo struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoSessionRepo はMongoSessionRepoを生成する。
func NewMongoSessionRepo(db *mongo.Database) *MongoSessionRepo {
	return &MongoSessionRepo{coll: db.Collection(sessionCollection), now: time.Now}
}

// Get は有効なセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *MongoSessionRepo) Get(ctx context.Context, id string) (*model.Session, error) {
	var doc sessionDocument
	err := r.coll.FindOne(ctx, bson.M{
		"_id":     id,
		"expires": bson.M{"$gt": r.now().UTC()},
	}).Decode(&doc)
	if isNoDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return doc.toModel()
}

// Save はセッションをupsertする。
func (r *MongoSessionRepo) Save(ctx context.Context, session *model.Session) error {
	now := r.now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	doc, err := toSessionDocument(session)
	if err != nil {
		return err
	}

	_, err = r.coll.ReplaceOne(ctx, bson.M{"_id": session.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Touch は有効期限を延長する。
func (r *MongoSessionRepo) Touch(ctx context.Context, id string, expires time.Time) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"expires":   expires.UTC(),
		"updatedAt": r.now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Destroy はセッションを削除する。
func (r *MongoSessionRepo) Destroy(ctx context.Context, id string) (bool, error) {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// PurgeExpired は期限切れのセッションを削除する。TTLモニタの補完として使用する。
func (r *MongoSessionRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"expires": bson.M{"$lte": now.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return res.DeletedCount, nil
}

// compile-time interface check
var _ SessionRepository = (*MongoSessionRepo)(nil)
