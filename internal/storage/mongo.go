package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"nexus/internal/domain"
)

// MongoPageStore implements domain.DocumentStore on MongoDB using the
// pages and page_versions collections.
type MongoPageStore struct {
	client   *mongo.Client
	pages    *mongo.Collection
	versions *mongo.Collection
}

var _ domain.DocumentStore = (*MongoPageStore)(nil)

// pageDoc is the stored shape. The document tree is kept as JSON text so
// numeric settings round-trip with the same types as the SQL stores.
type pageDoc struct {
	ID          string     `bson:"_id"`
	TenantID    string     `bson:"tenantId"`
	Slug        string     `bson:"slug"`
	Title       string     `bson:"title"`
	Document    string     `bson:"document"`
	Version     int        `bson:"version"`
	CreatedAt   time.Time  `bson:"createdAt"`
	UpdatedAt   time.Time  `bson:"updatedAt"`
	PublishedAt *time.Time `bson:"publishedAt,omitempty"`
}

type versionDoc struct {
	ID        string    `bson:"_id"`
	PageID    string    `bson:"pageId"`
	Number    int       `bson:"number"`
	Label     string    `bson:"label"`
	Document  string    `bson:"document"`
	CreatedAt time.Time `bson:"createdAt"`
}

// OpenMongo connects to uri. The database name comes from the URI path,
// defaulting to "nexus".
func OpenMongo(ctx context.Context, uri string) (*MongoPageStore, error) {
	dbName := mongoDatabase(uri)
	log.Printf("[MONGO] Connecting to database %s", dbName)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoPageStore{
		client:   client,
		pages:    db.Collection("pages"),
		versions: db.Collection("page_versions"),
	}
	if _, err := s.pages.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "tenantId", Value: 1}}}); err != nil {
		log.Printf("[MONGO] create pages index: %v", err)
	}
	if _, err := s.versions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "pageId", Value: 1}, {Key: "number", Value: -1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		log.Printf("[MONGO] create versions index: %v", err)
	}
	return s, nil
}

// mongoDatabase extracts the database name from user:pass@host/DB?params.
func mongoDatabase(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if at := strings.Index(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	if slash := strings.Index(rest, "/"); slash != -1 {
		path := rest[slash+1:]
		if q := strings.Index(path, "?"); q != -1 {
			path = path[:q]
		}
		if path != "" {
			return path
		}
	}
	return "nexus"
}

func (s *MongoPageStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (d *pageDoc) page() (*domain.Page, error) {
	p := &domain.Page{
		ID: d.ID, TenantID: d.TenantID, Slug: d.Slug, Title: d.Title,
		Version: d.Version, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt, PublishedAt: d.PublishedAt,
	}
	if err := json.Unmarshal([]byte(d.Document), &p.Document); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return p, nil
}

func (s *MongoPageStore) Load(ctx context.Context, pageID string) (*domain.Page, error) {
	var d pageDoc
	err := s.pages.FindOne(ctx, bson.D{{Key: "_id", Value: pageID}}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("page %s: %w", pageID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}
	return d.page()
}

func (s *MongoPageStore) Save(ctx context.Context, p *domain.Page) error {
	doc, err := json.Marshal(p.Document)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "tenantId", Value: p.TenantID},
			{Key: "slug", Value: p.Slug},
			{Key: "title", Value: p.Title},
			{Key: "document", Value: string(doc)},
			{Key: "updatedAt", Value: p.UpdatedAt},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "createdAt", Value: p.CreatedAt},
			{Key: "version", Value: p.Version},
		}},
	}
	_, err = s.pages.UpdateOne(ctx, bson.D{{Key: "_id", Value: p.ID}}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save page: %w", err)
	}
	return nil
}

// Publish writes the archived version before replacing the page, so an
// interrupted publish can leave an extra version but never loses a document.
func (s *MongoPageStore) Publish(ctx context.Context, p *domain.Page, label string) (*domain.Version, error) {
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	doc, err := json.Marshal(p.Document)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	now := time.Now().UTC()

	var (
		prev     pageDoc
		archived *domain.Version
	)
	err = s.pages.FindOne(ctx, bson.D{{Key: "_id", Value: p.ID}}).Decode(&prev)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		prev.CreatedAt = now
	case err != nil:
		return nil, fmt.Errorf("read current document: %w", err)
	default:
		number := 1
		var last versionDoc
		lastErr := s.versions.FindOne(ctx, bson.D{{Key: "pageId", Value: p.ID}},
			options.FindOne().SetSort(bson.D{{Key: "number", Value: -1}}),
		).Decode(&last)
		if lastErr == nil {
			number = last.Number + 1
		} else if !errors.Is(lastErr, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("next version number: %w", lastErr)
		}

		vd := versionDoc{ID: domain.NewID(), PageID: p.ID, Number: number, Label: label, Document: prev.Document, CreatedAt: now}
		if _, err := s.versions.InsertOne(ctx, vd); err != nil {
			return nil, fmt.Errorf("archive version: %w", err)
		}
		archived, err = vd.version()
		if err != nil {
			return nil, err
		}
		p.Version = number
	}

	next := pageDoc{
		ID: p.ID, TenantID: p.TenantID, Slug: p.Slug, Title: p.Title, Document: string(doc),
		Version: p.Version, CreatedAt: prev.CreatedAt, UpdatedAt: now, PublishedAt: &now,
	}
	if _, err := s.pages.ReplaceOne(ctx, bson.D{{Key: "_id", Value: p.ID}}, next, options.Replace().SetUpsert(true)); err != nil {
		return nil, fmt.Errorf("write published document: %w", err)
	}
	p.CreatedAt = prev.CreatedAt
	p.UpdatedAt = now
	p.PublishedAt = &now
	return archived, nil
}

func (d *versionDoc) version() (*domain.Version, error) {
	v := &domain.Version{ID: d.ID, PageID: d.PageID, Number: d.Number, Label: d.Label, CreatedAt: d.CreatedAt}
	if err := json.Unmarshal([]byte(d.Document), &v.Document); err != nil {
		return nil, fmt.Errorf("decode version %d: %w", d.Number, err)
	}
	return v, nil
}

func (s *MongoPageStore) Versions(ctx context.Context, pageID string) ([]domain.Version, error) {
	cur, err := s.versions.Find(ctx, bson.D{{Key: "pageId", Value: pageID}},
		options.Find().SetSort(bson.D{{Key: "number", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	var docs []versionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode versions: %w", err)
	}
	out := make([]domain.Version, 0, len(docs))
	for i := range docs {
		v, err := docs[i].version()
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (s *MongoPageStore) List(ctx context.Context, tenantID string) ([]domain.Page, error) {
	filter := bson.D{}
	if tenantID != "" {
		filter = bson.D{{Key: "tenantId", Value: tenantID}}
	}
	cur, err := s.pages.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "title", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	var docs []pageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode pages: %w", err)
	}
	out := make([]domain.Page, 0, len(docs))
	for i := range docs {
		p, err := docs[i].page()
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}
