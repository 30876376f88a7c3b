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

const courseCollection = "courses"

// DefaultPopularLimit は人気コース取得件数の既定値。
const DefaultPopularLimit = 10

type contentItemDocument struct {
	Title       string `bson:"title"`
	Description string `bson:"description,omitempty"`
	Type        string `bson:"type"`
	Data        string `bson:"data"`
	Order       int    `bson:"order"`
}

type courseDocument struct {
	ID          bson.ObjectID         `bson:"_id,omitempty"`
	Title       string                `bson:"title"`
	Description string                `bson:"description"`
	Professor   bson.ObjectID         `bson:"professor"`
	Students    []bson.ObjectID       `bson:"students"`
	Level       string                `bson:"level"`
	Topics      []string              `bson:"topics"`
	Content     []contentItemDocument `bson:"content"`
	Duration    int                   `bson:"duration"`
	IsPublished bool                  `bson:"isPublished"`
	CreatedAt   time.Time             `bson:"createdAt"`
	UpdatedAt   time.Time             `bson:"updatedAt"`
}

type popularDocument struct {
	ID           bson.ObjectID `bson:"_id"`
	Title        string        `bson:"title"`
	Description  string        `bson:"description"`
	Level        string        `bson:"level"`
	Duration     int           `bson:"duration"`
	StudentCount int           `bson:"studentCount"`
}

func toContentDocuments(items []model.ContentItem) []contentItemDocument {
	docs := make([]contentItemDocument, len(items))
	for i, it := range items {
		docs[i] = contentItemDocument{
			Title:       it.Title,
			Description: it.Description,
			Type:        string(it.Type),
			Data:        string(it.Data),
			Order:       it.Order,
		}
	}
	return docs
}

func toCourseDocument(c *model.Course) (*courseDocument, error) {
	professor, ok := parseObjectID(c.ProfessorID)
	if !ok {
		return nil, model.NewInvalidIDError(c.ProfessorID)
	}
	students, err := parseObjectIDs(c.StudentIDs)
	if err != nil {
		return nil, err
	}

	topics := c.Topics
	if topics == nil {
		topics = []string{}
	}

	doc := &courseDocument{
		Title:       c.Title,
		Description: c.Description,
		Professor:   professor,
		Students:    students,
		Level:       string(c.Level),
		Topics:      topics,
		Content:     toContentDocuments(c.Content),
		Duration:    c.Duration,
		IsPublished: c.IsPublished,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if oid, ok := parseObjectID(c.ID); ok {
		doc.ID = oid
	}
	return doc, nil
}

func (d *courseDocument) toModel() *model.Course {
	content := make([]model.ContentItem, len(d.Content))
	for i, it := range d.Content {
		content[i] = model.ContentItem{
			Title:       it.Title,
			Description: it.Description,
			Type:        model.ContentType(it.Type),
			Data:        []byte(it.Data),
			Order:       it.Order,
		}
	}
	return &model.Course{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		ProfessorID: d.Professor.Hex(),
		StudentIDs:  hexIDs(d.Students),
		Level:       model.Level(d.Level),
		Topics:      d.Topics,
		Content:     content,
		Duration:    d.Duration,
		IsPublished: d.IsPublished,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// MongoCourseRepo はMongoDBを使用したコースリポジトリ。
type MongoCourseRepo struct {
	coll *mongo.Collection
}

// NewMongoCourseRepo はMongoCourseRepoを生成する。
func NewMongoCourseRepo(db *mongo.Database) *MongoCourseRepo {
	return &MongoCourseRepo{coll: db.Collection(courseCollection)}
}

// FindByID は指定IDのコースを取得する。見つからない場合はnilを返す。
func (r *MongoCourseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, nil
	}

	var doc courseDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if isNoDocuments(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find course: %w", err)
	}
	return doc.toModel(), nil
}

// Create はコースを作成する。
func (r *MongoCourseRepo) Create(ctx context.Context, course *model.Course) error {
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now

	doc, err := toCourseDocument(course)
	if err != nil {
		return err
	}
	doc.ID = bson.NewObjectID()

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create course: %w", mapWriteError(err))
	}

	course.ID = doc.ID.Hex()
	return nil
}

// Update はタイトル・説明・難易度・トピック・コンテンツ・所要時間を更新する。
func (r *MongoCourseRepo) Update(ctx context.Context, course *model.Course) error {
	oid, ok := parseObjectID(course.ID)
	if !ok {
		return fmt.Errorf("failed to update course %s: %w", course.ID, model.ErrNotFound)
	}

	doc, err := toCourseDocument(course)
	if err != nil {
		return err
	}
	course.UpdatedAt = time.Now().UTC()

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"title":       doc.Title,
		"description": doc.Description,
		"level":       doc.Level,
		"topics":      doc.Topics,
		"content":     doc.Content,
		"duration":    doc.Duration,
		"updatedAt":   course.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("failed to update course: %w", mapWriteError(err))
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("failed to update course %s: %w", course.ID, model.ErrNotFound)
	}
	return nil
}

// SetPublished は公開状態を変更する。
func (r *MongoCourseRepo) SetPublished(ctx context.Context, id string, published bool) (*model.Course, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, fmt.Errorf("failed to publish course %s: %w", id, model.ErrNotFound)
	}

	var doc courseDocument
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"isPublished": published, "updatedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if isNoDocuments(err) {
		return nil, fmt.Errorf("failed to publish course %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to publish course: %w", err)
	}
	return doc.toModel(), nil
}

// AddStudent は受講者を追加する。未受講の場合のみ更新するため、同時追加でも重複しない。
func (r *MongoCourseRepo) AddStudent(ctx context.Context, courseID, userID string) (bool, error) {
	return r.modifyStudents(ctx, courseID, userID,
		func(uid bson.ObjectID) bson.M { return bson.M{"$ne": uid} },
		"$push")
}

// RemoveStudent は受講者を除外する。
func (r *MongoCourseRepo) RemoveStudent(ctx context.Context, courseID, userID string) (bool, error) {
	return r.modifyStudents(ctx, courseID, userID,
		func(uid bson.ObjectID) bson.M { return bson.M{"$eq": uid} },
		"$pull")
}

// modifyStudents は受講者配列の条件付き更新を行う。
// 条件に一致しなかった場合はコースの存在を確認し、存在すればfalseを返す。
func (r *MongoCourseRepo) modifyStudents(
	ctx context.Context,
	courseID, userID string,
	cond func(bson.ObjectID) bson.M,
	op string,
) (bool, error) {
	cid, ok := parseObjectID(courseID)
	if !ok {
		return false, fmt.Errorf("course %s: %w", courseID, model.ErrNotFound)
	}
	uid, ok := parseObjectID(userID)
	if !ok {
		return false, model.NewInvalidIDError(userID)
	}

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": cid, "students": cond(uid)},
		bson.M{
			op:     bson.M{"students": uid},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to modify students: %w", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": cid})
	if err != nil {
		return false, fmt.Errorf("failed to check course: %w", err)
	}
	if n == 0 {
		return false, fmt.Errorf("course %s: %w", courseID, model.ErrNotFound)
	}
	return false, nil
}

// ListPublished は公開中のコースを新しい順に返す。limitが0以下の場合は全件。
func (r *MongoCourseRepo) ListPublished(ctx context.Context, limit int) ([]*model.Course, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, bson.M{"isPublished": true}, opts)
}

// ListByProfessor は指定ユーザーが作成したコースを新しい順に返す。
func (r *MongoCourseRepo) ListByProfessor(ctx context.Context, professorID string) ([]*model.Course, error) {
	oid, ok := parseObjectID(professorID)
	if !ok {
		return []*model.Course{}, nil
	}
	return r.find(ctx, bson.M{"professor": oid},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// ListByLevel は指定難易度の公開中コースを返す。
func (r *MongoCourseRepo) ListByLevel(ctx context.Context, level model.Level) ([]*model.Course, error) {
	return r.find(ctx, bson.M{"level": string(level), "isPublished": true},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
}

// Search は全文検索で公開中コースを関連度順に返す。
func (r *MongoCourseRepo) Search(ctx context.Context, query string, limit int) ([]*model.Course, error) {
	score := bson.M{"score": bson.M{"$meta": "textScore"}}
	opts := options.Find().SetProjection(score).SetSort(score)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, bson.M{"$text": bson.M{"$search": query}, "isPublished": true}, opts)
}

// Popular は公開中コースを受講者数の多い順に集計する。
func (r *MongoCourseRepo) Popular(ctx context.Context, limit int) ([]*model.PopularCourse, error) {
	if limit <= 0 {
		limit = DefaultPopularLimit
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "isPublished", Value: true}}}},
		{{Key: "$addFields", Value: bson.D{{Key: "studentCount", Value: bson.D{
			{Key: "$size", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$students", bson.A{}}}}},
		}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "studentCount", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.D{
			{Key: "title", Value: 1},
			{Key: "description", Value: 1},
			{Key: "level", Value: 1},
			{Key: "duration", Value: 1},
			{Key: "studentCount", Value: 1},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate popular courses: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []popularDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode popular courses: %w", err)
	}

	out := make([]*model.PopularCourse, 0, len(docs))
	for _, d := range docs {
		out = append(out, &model.PopularCourse{
			ID:           d.ID.Hex(),
			Title:        d.Title,
			Description:  d.Description,
			Level:        model.Level(d.Level),
			Duration:     d.Duration,
			StudentCount: d.StudentCount,
		})
	}
	return out, nil
}

func (r *MongoCourseRepo) find(ctx context.Context, filter bson.M, opts ...options.Lister[options.FindOptions]) ([]*model.Course, error) {
	cursor, err := r.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to find courses: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []courseDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode courses: %w", err)
	}

	courses := make([]*model.Course, 0, len(docs))
	for i := range docs {
		courses = append(courses, docs[i].toModel())
	}
	return courses, nil
}

// compile-time interface check
var _ CourseRepository = (*MongoCourseRepo)(nil)
