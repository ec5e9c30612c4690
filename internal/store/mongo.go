package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mergelab/cmine/internal/models"
)

// DefaultMongoDatabase is used when no database name is configured.
const DefaultMongoDatabase = "cmine"

// repoDoc is the repos document: the record plus its ObjectID.
type repoDoc struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	models.RepoMeta `bson:",inline"`
}

// scenarioDoc adds the natural key to a merge scenario document.
type scenarioDoc struct {
	MSID                         string `bson:"ms_id"`
	models.ConflictMergeScenario `bson:",inline"`
}

// sourceDoc adds the path key to a conflict source document.
type sourceDoc struct {
	PathsKey              string `bson:"paths_key"`
	models.ConflictSource `bson:",inline"`
}

// MongoStore implements Store on a MongoDB database. Repository ids are
// ObjectID hex strings.
type MongoStore struct {
	client    *mongo.Client
	repos     *mongo.Collection
	scenarios *mongo.Collection
	sources   *mongo.Collection
}

// NewMongoStore connects to uri and prepares the collections and indexes.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo store: empty connection uri")
	}
	if database == "" {
		database = DefaultMongoDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		repos:     db.Collection("repos"),
		scenarios: db.Collection("merge_scenarios"),
		sources:   db.Collection("conflict_sources"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.repos, mongo.IndexModel{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{s.scenarios, mongo.IndexModel{
			Keys:    bson.D{{Key: "repo_id", Value: 1}, {Key: "ms_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{s.sources, mongo.IndexModel{
			Keys:    bson.D{{Key: "repo_id", Value: 1}, {Key: "ms_id", Value: 1}, {Key: "paths_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("create index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// ==================== Repositories ====================

func (d *repoDoc) meta() *models.RepoMeta {
	meta := d.RepoMeta
	meta.ID = d.ID.Hex()
	return &meta
}

// GetRepo retrieves a repository by name. Returns ErrNotFound if missing.
func (s *MongoStore) GetRepo(ctx context.Context, name string) (*models.RepoMeta, error) {
	var doc repoDoc
	err := s.repos.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("repo %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get repo %s: %w", name, err)
	}
	return doc.meta(), nil
}

// ListRepos returns every repository ordered by name.
func (s *MongoStore) ListRepos(ctx context.Context) ([]*models.RepoMeta, error) {
	cur, err := s.repos.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	var docs []repoDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode repos: %w", err)
	}
	repos := make([]*models.RepoMeta, 0, len(docs))
	for i := range docs {
		repos = append(repos, docs[i].meta())
	}
	return repos, nil
}

// InsertRepo stores a new repository record and returns its ObjectID hex.
// Returns ErrConflict if a repository with the same name exists.
func (s *MongoStore) InsertRepo(ctx context.Context, meta *models.RepoMeta) (string, error) {
	if err := validate(meta); err != nil {
		return "", err
	}
	doc := repoDoc{ID: primitive.NewObjectID(), RepoMeta: *meta}
	if doc.Remotes == nil {
		doc.Remotes = []string{}
	}
	if _, err := s.repos.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("repo %s: %w", meta.Name, ErrConflict)
		}
		return "", fmt.Errorf("insert repo %s: %w", meta.Name, err)
	}
	return doc.ID.Hex(), nil
}

// UpdateRepoStatus sets the mining status of a repository.
func (s *MongoStore) UpdateRepoStatus(ctx context.Context, id string, status models.MineStatus) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("repo id %s: %w", id, ErrNotFound)
	}
	res, err := s.repos.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"mined": status}})
	if err != nil {
		return fmt.Errorf("update repo %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("repo id %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteRepo removes a repository record. Deleting a missing repository is a
// no-op.
func (s *MongoStore) DeleteRepo(ctx context.Context, name string) error {
	if _, err := s.repos.DeleteOne(ctx, bson.M{"name": name}); err != nil {
		return fmt.Errorf("delete repo %s: %w", name, err)
	}
	return nil
}

// ==================== Merge Scenarios ====================

// InsertMergeScenario stores a scenario. Returns ErrConflict if the scenario
// is already stored for the repository.
func (s *MongoStore) InsertMergeScenario(ctx context.Context, ms *models.ConflictMergeScenario) error {
	if err := validate(ms); err != nil {
		return err
	}
	doc := scenarioDoc{MSID: ms.MSID(), ConflictMergeScenario: *ms}
	if _, err := s.scenarios.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("merge scenario %s: %w", doc.MSID, ErrConflict)
		}
		return fmt.Errorf("insert merge scenario %s: %w", doc.MSID, err)
	}
	return nil
}

// ListMergeScenarios returns the scenarios of a repository ordered by ms_id.
func (s *MongoStore) ListMergeScenarios(ctx context.Context, repoID string) ([]*models.ConflictMergeScenario, error) {
	cur, err := s.scenarios.Find(ctx, bson.M{"repo_id": repoID}, options.Find().SetSort(bson.D{{Key: "ms_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list merge scenarios: %w", err)
	}
	var docs []scenarioDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode merge scenarios: %w", err)
	}
	out := make([]*models.ConflictMergeScenario, 0, len(docs))
	for i := range docs {
		out = append(out, &docs[i].ConflictMergeScenario)
	}
	return out, nil
}

// DeleteMergeScenarios removes every scenario of a repository.
func (s *MongoStore) DeleteMergeScenarios(ctx context.Context, repoID string) (int, error) {
	res, err := s.scenarios.DeleteMany(ctx, bson.M{"repo_id": repoID})
	if err != nil {
		return 0, fmt.Errorf("delete merge scenarios: %w", err)
	}
	return int(res.DeletedCount), nil
}

// ==================== Conflict Sources ====================

// InsertConflictSources stores a batch of sources with one InsertMany.
func (s *MongoStore) InsertConflictSources(ctx context.Context, sources []*models.ConflictSource) error {
	if err := validateSources(sources); err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(sources))
	for _, cs := range sources {
		docs = append(docs, sourceDoc{PathsKey: cs.Paths.Key(), ConflictSource: *cs})
	}
	if _, err := s.sources.InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("conflict sources: %w", ErrConflict)
		}
		return fmt.Errorf("insert conflict sources: %w", err)
	}
	return nil
}

// ListConflictSources returns the sources of a scenario, or of the whole
// repository when msID is empty.
func (s *MongoStore) ListConflictSources(ctx context.Context, repoID, msID string) ([]*models.ConflictSource, error) {
	filter := bson.M{"repo_id": repoID}
	if msID != "" {
		filter["ms_id"] = msID
	}
	sort := bson.D{{Key: "ms_id", Value: 1}, {Key: "paths_key", Value: 1}}
	cur, err := s.sources.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("list conflict sources: %w", err)
	}
	var docs []sourceDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conflict sources: %w", err)
	}
	out := make([]*models.ConflictSource, 0, len(docs))
	for i := range docs {
		out = append(out, &docs[i].ConflictSource)
	}
	return out, nil
}

// DeleteConflictSources removes every source of a repository.
func (s *MongoStore) DeleteConflictSources(ctx context.Context, repoID string) (int, error) {
	res, err := s.sources.DeleteMany(ctx, bson.M{"repo_id": repoID})
	if err != nil {
		return 0, fmt.Errorf("delete conflict sources: %w", err)
	}
	return int(res.DeletedCount), nil
}
