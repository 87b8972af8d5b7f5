// Package graph records which parties, events and locations each source
// mentions, as (Source)-[:MENTIONS]->(target) edges.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/ajitpratap0/docbreak/internal/models"
)

// Sink receives the mentions of one source.
type Sink interface {
	RecordMentions(ctx context.Context, src models.Source, mentions []models.Mention) error
	Close(ctx context.Context) error
}

// NopSink discards mentions. It is used when no graph is configured.
type NopSink struct{}

// RecordMentions does nothing.
func (NopSink) RecordMentions(context.Context, models.Source, []models.Mention) error { return nil }

// Close does nothing.
func (NopSink) Close(context.Context) error { return nil }

// Mentions lists the targets of a resolved breakdown. Parties and events
// carry corpus IDs; locations are keyed by name.
func Mentions(sourceID string, parties []models.Party, events []models.Event, locations []models.Location) []models.Mention {
	out := make([]models.Mention, 0, len(parties)+len(events)+len(locations))
	seen := make(map[string]struct{})
	add := func(m models.Mention) {
		key := string(m.TargetKind) + "\x00" + m.TargetID
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	for _, p := range parties {
		add(models.Mention{SourceID: sourceID, TargetID: p.ID, TargetKind: models.MentionParty, Name: p.Name})
	}
	for _, e := range events {
		add(models.Mention{SourceID: sourceID, TargetID: e.ID, TargetKind: models.MentionEvent, Name: e.Name})
	}
	for _, l := range locations {
		if name := l.Name(); name != "" {
			add(models.Mention{SourceID: sourceID, TargetID: name, TargetKind: models.MentionLocation, Name: name})
		}
	}
	return out
}

// labels maps mention kinds to node labels. Cypher cannot parameterize
// labels, so each kind gets its own statement.
var labels = map[models.MentionKind]string{
	models.MentionParty:    "Party",
	models.MentionEvent:    "Event",
	models.MentionLocation: "Location",
}

func mentionQuery(kind models.MentionKind) (string, error) {
	label, ok := labels[kind]
	if !ok {
		return "", fmt.Errorf("unknown mention kind %q", kind)
	}
	return `MERGE (s:Source {id: $sourceId})
SET s.url = $url
WITH s
UNWIND $targets AS t
MERGE (n:` + label + ` {id: t.id})
SET n.name = t.name
MERGE (s)-[:MENTIONS]->(n)`, nil
}

// Neo4jSink writes mentions to Neo4j.
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jSink connects to uri and verifies connectivity.
func NewNeo4jSink(ctx context.Context, uri, username, password, database string, logger *slog.Logger) (*Neo4jSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver for %s: %w", uri, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verifying neo4j connection at %s: %w", uri, err)
	}
	logger.Info("connected to neo4j", "uri", uri, "database", database)
	return &Neo4jSink{driver: driver, database: database, logger: logger}, nil
}

// RecordMentions merges the source node and one edge per mention.
// Re-recording the same mentions is a no-op.
func (n *Neo4jSink) RecordMentions(ctx context.Context, src models.Source, mentions []models.Mention) error {
	byKind := make(map[models.MentionKind][]map[string]any)
	for _, m := range mentions {
		byKind[m.TargetKind] = append(byKind[m.TargetKind], map[string]any{"id": m.TargetID, "name": m.Name})
	}

	for _, kind := range []models.MentionKind{models.MentionParty, models.MentionEvent, models.MentionLocation} {
		targets := byKind[kind]
		if len(targets) == 0 {
			continue
		}
		query, err := mentionQuery(kind)
		if err != nil {
			return err
		}
		_, err = neo4j.ExecuteQuery(ctx, n.driver, query,
			map[string]any{"sourceId": src.ID, "url": src.URL, "targets": targets},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(n.database))
		if err != nil {
			return fmt.Errorf("recording %s mentions of source %s: %w", kind, src.ID, err)
		}
	}
	n.logger.Debug("recorded mentions", "source_id", src.ID, "count", len(mentions))
	return nil
}

// Close closes the driver.
func (n *Neo4jSink) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}
