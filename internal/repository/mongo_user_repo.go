package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hitoshi/codetutor/internal/model"
)

const userCollection = "users"

// usernameCollation はidx_usernameと同じ照合順序。大文字小文字を区別しない。
var usernameCollation = &options.Collation{Locale: "en", Strength: 2}

type userDocument struct {
	ID          bson.ObjectID `bson:"_id,omitempty"`
	Username    string        `bson:"username"`
	Email       string        `bson:"email,omitempty"`
	GitHubID    string        `bson:"githubId,omitempty"`
	DisplayName string        `bson:"displayName,omitempty"`
	AvatarURL   string        `bson:"avatarUrl,omitempty"`
	Provider    string        `bson:"provider"`
	LastLogin   time.Time     `bson:"lastLogin"`
	CreatedAt   time.Time     `bson:"createdAt"`
	UpdatedAt   time.Time     `bson:"updatedAt"`
}

func toUserDocument(u *model.User) *userDocument {
	doc := &userDocument{
		Username:    u.Username,
		Email:       u.Email,
		GitHubID:    u.GitHubID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Provider:    string(u.Provider),
		LastLogin:   u.LastLogin,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if doc.Provider == "" {
		doc.Provider = string(model.ProviderLocal)
	}
	if oid, ok := parseObjectID(u.ID); ok {
		doc.ID = oid
	}
	return doc
}

func (d *userDocument) toModel() *model.User {
	return &model.User{
		ID:          d.ID.Hex(),
		Username:    d.Username,
		Email:       d.Email,
		GitHubID:    d.GitHubID,
		DisplayName: d.DisplayName,
		AvatarURL:   d.AvatarURL,
		Provider:    model.Provider(d.Provider),
		LastLogin:   d.LastLogin,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	coll *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{coll: db.Collection(userCollection)}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// FindByGitHubID はGitHubのユーザーIDで検索する。
func (r *MongoUserRepo) FindByGitHubID(ctx context.Context, githubID string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"githubId": githubID})
}

// FindByUsername はユーザー名を大文字小文字を区別せずに検索する。
func (r *MongoUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"username": username}, options.FindOne().SetCollation(usernameCollation))
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M, opts ...options.Lister[options.FindOneOptions]) (*model.User, error) {
	var doc userDocument
	err := r.coll.FindOne(ctx, filter, opts...).Decode(&doc)
	if isNoDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc.toModel(), nil
}

// ListByProvider は指定プロバイダのユーザーを作成順に返す。
func (r *MongoUserRepo) ListByProvider(ctx context.Context, provider model.Provider) ([]*model.User, error) {
	cursor, err := r.coll.Find(ctx,
		bson.M{"provider": string(provider)},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	users := make([]*model.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toModel())
	}
	return users, nil
}

// Create はユーザーを作成する。
func (r *MongoUserRepo) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Provider == "" {
		user.Provider = model.ProviderLocal
	}

	doc := toUserDocument(user)
	doc.ID = bson.NewObjectID()

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create user: %w", mapWriteError(err))
	}

	user.ID = doc.ID.Hex()
	return nil
}

// Update はプロフィール項目を更新する。空文字の任意項目はドキュメントから削除する。
func (r *MongoUserRepo) Update(ctx context.Context, user *model.User) error {
	oid, ok := parseObjectID(user.ID)
	if !ok {
		return fmt.Errorf("failed to update user %s: %w", user.ID, model.ErrNotFound)
	}

	user.UpdatedAt = time.Now().UTC()

	set := bson.M{
		"username":  user.Username,
		"updatedAt": user.UpdatedAt,
	}
	unset := bson.M{}
	optional := map[string]string{
		"email":       user.Email,
		"displayName": user.DisplayName,
		"avatarUrl":   user.AvatarURL,
	}
	for field, value := range optional {
		if value == "" {
			unset[field] = ""
		} else {
			set[field] = value
		}
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", mapWriteError(err))
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("failed to update user %s: %w", user.ID, model.ErrNotFound)
	}
	return nil
}

// TouchLastLogin は最終ログイン日時を更新する。
func (r *MongoUserRepo) TouchLastLogin(ctx context.Context, id string, at time.Time) (*model.User, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, fmt.Errorf("failed to touch user %s: %w", id, model.ErrNotFound)
	}

	var doc userDocument
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"lastLogin": at.UTC(), "updatedAt": at.UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if isNoDocuments(err) {
		return nil, fmt.Errorf("failed to touch user %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to touch user: %w", err)
	}
	return doc.toModel(), nil
}

// DeleteInactive は最終ログインがbefore以前のユーザーを削除する。
func (r *MongoUserRepo) DeleteInactive(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"lastLogin": bson.M{"$lt": before.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete inactive users: %w", err)
	}
	return res.DeletedCount, nil
}

// compile-time interface check
var _ UserRepository = (*MongoUserRepo)(nil)
