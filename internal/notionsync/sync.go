package notionsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/dvloznov/merchant-insights/internal/pipeline"
	"github.com/jomei/notionapi"
)

// pageSize is the maximum page size accepted by the query endpoint.
const pageSize = 100

// ErrNoRunID is returned when results are synced without a run ID.
var ErrNoRunID = errors.New("run ID is required")

// SyncStats counts the pages touched by a sync.
type SyncStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Exporter writes enrichment results to a Notion database.
type Exporter struct {
	client     NotionService
	databaseID string
}

// NewExporter creates an Exporter for the given database.
func NewExporter(client NotionService, databaseID string) *Exporter {
	return &Exporter{client: client, databaseID: databaseID}
}

// SyncResults upserts one page per enriched transaction of a run. Pages are
// matched on their Entry ID, so syncing the same run twice updates in place.
// Individual page failures are logged and counted; only a failed database
// query aborts the sync.
func (e *Exporter) SyncResults(ctx context.Context, runID string, result *pipeline.BatchResult, dryRun bool) (SyncStats, error) {
	var stats SyncStats
	if runID == "" {
		return stats, fmt.Errorf("SyncResults: %w", ErrNoRunID)
	}
	if result == nil || len(result.Results) == 0 {
		return stats, nil
	}

	log := logger.FromContext(ctx).With().Str("run_id", runID).Logger()
	log.Info().
		Int("results", len(result.Results)).
		Bool("dry_run", dryRun).
		Msg("Starting enrichment sync to Notion")

	existing, err := e.existingPages(ctx)
	if err != nil {
		return stats, fmt.Errorf("SyncResults: %w", err)
	}

	for _, info := range result.Results {
		entryID := EntryID(runID, info.TransactionIndex)
		pageID, found := existing[entryID]

		if dryRun {
			if found {
				log.Info().Str("entry_id", entryID).Msg("[DRY RUN] Would update Notion page")
				stats.Updated++
			} else {
				log.Info().Str("entry_id", entryID).Msg("[DRY RUN] Would create Notion page")
				stats.Created++
			}
			continue
		}

		props := MerchantInfoToNotionProperties(runID, info)
		if found {
			if _, err := e.client.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("entry_id", entryID).Str("page_id", pageID).Msg("Failed to update Notion page")
				stats.Failed++
				continue
			}
			stats.Updated++
			continue
		}

		page, err := e.client.CreatePage(ctx, e.databaseID, props)
		if err != nil {
			log.Warn().Err(err).Str("entry_id", entryID).Msg("Failed to create Notion page")
			stats.Failed++
			continue
		}
		log.Debug().Str("entry_id", entryID).Str("page_id", string(page.ID)).Msg("Created Notion page")
		stats.Created++
	}

	log.Info().
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Msg("Enrichment sync completed")

	return stats, nil
}

// existingPages maps Entry ID to page ID for every page in the database.
func (e *Exporter) existingPages(ctx context.Context) (map[string]string, error) {
	pages := make(map[string]string)
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: pageSize}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := e.client.QueryDatabase(ctx, e.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("existingPages: %w", err)
		}
		for _, page := range resp.Results {
			if id := plainText(page, PropEntryID); id != "" {
				pages[id] = string(page.ID)
			}
		}

		if !resp.HasMore {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}
