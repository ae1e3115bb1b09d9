package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/estmeter/estmeter/pkg/log"
	"github.com/estmeter/estmeter/pkg/types"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Each series is a document in the "series" collection and its
// records live in a "records" sub-collection keyed by the RFC3339 start
// time, so range reads can use document ID queries.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) recordsCollection(statisticID string) (*firestore.CollectionRef, error) {
	if statisticID == "" {
		return nil, fmt.Errorf("statisticID cannot be empty")
	}
	return f.client.Collection("series").Doc(statisticID).Collection("records"), nil
}

// recordFromDoc decodes the JSON blob a record document carries.
func recordFromDoc(doc *firestore.DocumentSnapshot) (types.CumulativeRecord, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return types.CumulativeRecord{}, fmt.Errorf("record document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return types.CumulativeRecord{}, fmt.Errorf("record document %s 'json' field is not string", doc.Ref.ID)
	}
	var rec types.CumulativeRecord
	if err := json.Unmarshal([]byte(jsonStr), &rec); err != nil {
		return types.CumulativeRecord{}, fmt.Errorf("failed to unmarshal record (id=%s): %w", doc.Ref.ID, err)
	}
	return rec, nil
}

// GetLatestRecord returns the newest record of a series.
func (f *FirestoreProvider) GetLatestRecord(ctx context.Context, statisticID string) (*types.CumulativeRecord, error) {
	coll, err := f.recordsCollection(statisticID)
	if err != nil {
		return nil, err
	}

	// firestore automatically creates indexes for top-level fields
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest record for %s: %w", statisticID, err)
	}

	rec, err := recordFromDoc(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "malformed record doc", slog.String("statisticID", statisticID), slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return nil, err
	}
	rec.StatisticID = statisticID
	return &rec, nil
}

// GetRecords retrieves the records of a series within [start, end].
// Uses document ID range queries for efficient filtering without reading
// all documents.
func (f *FirestoreProvider) GetRecords(ctx context.Context, statisticID string, start, end time.Time) ([]types.CumulativeRecord, error) {
	coll, err := f.recordsCollection(statisticID)
	if err != nil {
		return nil, err
	}

	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<=", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []types.CumulativeRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating records for %s: %w", statisticID, err)
		}

		rec, err := recordFromDoc(doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "malformed record doc", slog.String("statisticID", statisticID), slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			return nil, err
		}
		rec.StatisticID = statisticID
		out = append(out, rec)
	}
	return out, nil
}

// GetSeries returns the metadata of one series.
func (f *FirestoreProvider) GetSeries(ctx context.Context, statisticID string) (*types.SeriesMetadata, error) {
	if statisticID == "" {
		return nil, fmt.Errorf("statisticID cannot be empty")
	}
	doc, err := f.client.Collection("series").Doc(statisticID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get series %s: %w", statisticID, err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		return nil, fmt.Errorf("series doc %s missing 'json' field: %w", statisticID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("series doc %s 'json' field is not string", statisticID)
	}
	var meta types.SeriesMetadata
	if err := json.Unmarshal([]byte(jsonStr), &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal series %s: %w", statisticID, err)
	}
	return &meta, nil
}

// AppendRecords upserts the series metadata and writes each record with the
// RFC3339 start time as the document ID, so replayed batches overwrite the
// same documents instead of duplicating them.
func (f *FirestoreProvider) AppendRecords(ctx context.Context, meta types.SeriesMetadata, records []types.CumulativeRecord) error {
	if meta.StatisticID == "" {
		return fmt.Errorf("metadata missing statistic ID")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal series %s: %w", meta.StatisticID, err)
	}
	_, err = f.client.Collection("series").Doc(meta.StatisticID).Set(ctx, map[string]interface{}{
		"json": string(metaJSON),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to upsert series %s: %w", meta.StatisticID, err)
	}

	coll, err := f.recordsCollection(meta.StatisticID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		rec.StatisticID = meta.StatisticID
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record at %s: %w", rec.Start, err)
		}
		docID := rec.Start.UTC().Format(time.RFC3339)
		_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
			"json":      string(recJSON),
			"timestamp": rec.Start,
		})
		if err != nil {
			return fmt.Errorf("failed to write record %s for %s: %w", docID, meta.StatisticID, err)
		}
	}
	return nil
}

// ListSeries retrieves the metadata of every stored series.
func (f *FirestoreProvider) ListSeries(ctx context.Context) ([]types.SeriesMetadata, error) {
	iter := f.client.Collection("series").Documents(ctx)
	defer iter.Stop()

	var out []types.SeriesMetadata
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating series: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "series doc missing json", slog.String("statisticID", doc.Ref.ID))
			// Skip malformed documents
			continue
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "series doc json not string", slog.String("statisticID", doc.Ref.ID))
			continue
		}

		var meta types.SeriesMetadata
		if err := json.Unmarshal([]byte(jsonStr), &meta); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal series", slog.String("statisticID", doc.Ref.ID), slog.Any("err", err))
			// Skip malformed JSON
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}
