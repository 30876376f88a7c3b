package repository

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/hitoshi/codetutor/internal/model"
)

// indexFields は一意インデックス名から利用者に見せるフィールド名への対応。
var indexFields = map[string]string{
	"idx_username":  "username",
	"idx_email":     "email",
	"idx_github_id": "githubId",
}

// mapWriteError は一意インデックス違反を*model.DuplicateKeyErrorに変換する。
// それ以外のエラーはそのまま返す。
func mapWriteError(err error) error {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return &model.DuplicateKeyError{Field: duplicateKeyField(err)}
}

// duplicateKeyField はE11000のメッセージからインデックス名を取り出してフィールド名を返す。
func duplicateKeyField(err error) string {
	msg := err.Error()
	if _, rest, ok := strings.Cut(msg, "index: "); ok {
		name, _, _ := strings.Cut(rest, " ")
		if field, ok := indexFields[name]; ok {
			return field
		}
		if name != "" {
			return name
		}
	}
	return "record"
}

// parseObjectID は16進文字列のIDをObjectIDに変換する。
// 不正な形式は存在しないIDとして扱えるようokで返す。
func parseObjectID(id string) (bson.ObjectID, bool) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.NilObjectID, false
	}
	return oid, true
}

// parseObjectIDs は複数のIDを変換する。不正なIDが含まれる場合はエラーを返す。
func parseObjectIDs(ids []string) ([]bson.ObjectID, error) {
	out := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, ok := parseObjectID(id)
		if !ok {
			return nil, model.NewInvalidIDError(id)
		}
		out = append(out, oid)
	}
	return out, nil
}

func hexIDs(oids []bson.ObjectID) []string {
	out := make([]string, len(oids))
	for i, oid := range oids {
		out[i] = oid.Hex()
	}
	return out
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
