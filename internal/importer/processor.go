// Package importer drains the filesystem import queue. Each subdirectory of
// the inbox is one scanned batch of ward cards; cards flow through vision
// extraction and clinical reasoning, the result is routed through the
// planner and the batch is archived only when every card reached a terminal
// outcome. A batch left in the inbox is safe to rerun from the top.
package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/snanayakkara/operator-sub003/internal/clients"
	"github.com/snanayakkara/operator-sub003/internal/planner"
	"github.com/snanayakkara/operator-sub003/internal/state"
	"github.com/snanayakkara/operator-sub003/pkg/config"
	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/repository"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// Card outcome statuses recorded in the batch log.
const (
	CardApplied  = "applied"
	CardHeld     = "held"
	CardNoChange = "no_change"
	CardFailed   = "failed"
)

// Processor runs one batch end to end.
type Processor struct {
	cfg       config.ImporterConfig
	vision    clients.VisionClient
	reasoning clients.ReasoningClient
	planner   *planner.Planner
	store     *state.Store
	patients  repository.PatientStore
	reviews   repository.ReviewStore
	importLog repository.ImportLogStore
	logger    *logger.Logger
}

// NewProcessor creates a batch processor.
func NewProcessor(cfg config.ImporterConfig, vision clients.VisionClient, reasoning clients.ReasoningClient, plan *planner.Planner, store *state.Store, patients repository.PatientStore, reviews repository.ReviewStore, importLog repository.ImportLogStore, log *logger.Logger) *Processor {
	return &Processor{
		cfg:       cfg,
		vision:    vision,
		reasoning: reasoning,
		planner:   plan,
		store:     store,
		patients:  patients,
		reviews:   reviews,
		importLog: importLog,
		logger:    log,
	}
}

// proposal is the collaborator output for one card, produced by the bounded
// fan-out stage before routing.
type proposal struct {
	card    string
	path    string
	reading *clients.VisionReading
	patient *types.Patient
	result  *clients.ReasoningResult
	err     error
}

// ProcessBatch runs every card in the batch directory. Collaborator calls
// fan out up to the configured concurrency; routing and apply run in card
// order so conflict detection within the batch is deterministic. The batch
// directory moves to the dated archive only when no card failed.
func (p *Processor) ProcessBatch(ctx context.Context, batchDir string) (*types.ImportBatchStatus, error) {
	batchID := filepath.Base(batchDir)
	cards, err := p.listCards(batchDir)
	if err != nil {
		return nil, types.NewPersistenceError("failed to list batch directory", err)
	}
	if len(cards) == 0 {
		p.logger.WithField("batch", batchID).Debug("Batch directory empty, skipping")
		return nil, nil
	}

	log := p.logger.WithComponent("importer").WithField("batch", batchID)
	log.WithField("cards", len(cards)).Info("Processing batch")

	proposals := p.extractAll(ctx, batchDir, cards)

	status := &types.ImportBatchStatus{
		BatchID:     batchID,
		Cards:       len(cards),
		ProcessedAt: time.Now().UTC(),
	}
	for _, prop := range proposals {
		outcome := p.route(ctx, batchID, prop)
		status.CardOutcomes = append(status.CardOutcomes, outcome)
		switch outcome.Status {
		case CardFailed:
			status.Failed++
		default:
			if outcome.Applied {
				status.Applied++
			}
			status.HeldForReview += outcome.Held
		}
	}

	if status.Failed == 0 {
		if err := p.archive(batchDir, status.ProcessedAt); err != nil {
			return nil, types.NewPersistenceError("failed to archive batch", err)
		}
		status.Archived = true
	} else {
		log.WithField("failed", status.Failed).
			Warn("Batch has failed cards, leaving in inbox for rerun")
	}

	if err := p.importLog.Record(ctx, status); err != nil {
		return nil, err
	}

	log.WithField("applied", status.Applied).WithField("held", status.HeldForReview).
		WithField("failed", status.Failed).Info("Batch processed")
	return status, nil
}

// extractAll runs vision and reasoning for every card with bounded fan-out.
// Results come back in card order regardless of completion order.
func (p *Processor) extractAll(ctx context.Context, batchDir string, cards []string) []proposal {
	concurrency := p.cfg.CardConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	proposals := make([]proposal, len(cards))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, card := range cards {
		wg.Add(1)
		go func(i int, card string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			proposals[i] = p.propose(ctx, filepath.Join(batchDir, card), card)
		}(i, card)
	}
	wg.Wait()

	return proposals
}

// propose runs the collaborator pipeline for one card: extract, resolve the
// patient, reason. Any failure is per-card and never fails the batch.
func (p *Processor) propose(ctx context.Context, path, card string) proposal {
	prop := proposal{card: card, path: path}

	prop.reading, prop.err = p.vision.Extract(ctx, path)
	if prop.err != nil {
		return prop
	}

	prop.patient, prop.err = p.resolvePatient(ctx, prop.reading)
	if prop.err != nil {
		return prop
	}

	prop.result, prop.err = p.reasoning.Reason(ctx, prop.reading, prop.patient)
	return prop
}

// route plans and applies one card's proposal under the per-patient lock.
func (p *Processor) route(ctx context.Context, batchID string, prop proposal) types.CardOutcome {
	outcome := types.CardOutcome{Card: prop.card}
	if prop.err != nil {
		outcome.Status = CardFailed
		outcome.Detail = prop.err.Error()
		p.logger.WithError(prop.err).WithField("card", prop.card).Warn("Card failed")
		return outcome
	}

	// Re-load the record so divergence checks see the effect of earlier
	// cards in this batch, not the snapshot taken during extraction.
	patient, err := p.store.GetPatient(ctx, prop.patient.ID)
	if err != nil {
		outcome.Status = CardFailed
		outcome.Detail = err.Error()
		return outcome
	}

	pending, err := p.reviews.ListPendingByPatient(ctx, patient.ID)
	if err != nil {
		outcome.Status = CardFailed
		outcome.Detail = err.Error()
		return outcome
	}

	decision := p.planner.Plan(prop.result.Diff, prop.result.Confidence, patient, pending)

	source := "card_import:" + batchID + "/" + prop.card
	_, entry, err := p.store.Apply(ctx, patient.ID, decision.AutoApply, source, prop.reading.RawText)
	if err != nil {
		outcome.Status = CardFailed
		outcome.Detail = err.Error()
		return outcome
	}

	for _, frag := range decision.NeedsReview {
		if _, err := p.reviews.Create(ctx, &types.PendingReviewEntry{
			ID:        uuid.New().String(),
			PatientID: patient.ID,
			Fragment:  frag.Fragment,
			Reason:    frag.Reason,
			Detail:    frag.Detail,
			FieldKey:  frag.FieldKey,
			Source:    source,
			Status:    types.ReviewPending,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			outcome.Status = CardFailed
			outcome.Detail = err.Error()
			return outcome
		}
		outcome.Held++
	}

	switch {
	case entry != nil:
		outcome.Status = CardApplied
		outcome.Applied = true
	case outcome.Held > 0:
		outcome.Status = CardHeld
	default:
		outcome.Status = CardNoChange
	}
	return outcome
}

// resolvePatient matches a card reading to a patient, by MRN first and exact
// name second. An unmatched card is a per-card failure.
func (p *Processor) resolvePatient(ctx context.Context, reading *clients.VisionReading) (*types.Patient, error) {
	mrn := strings.TrimSpace(reading.Fields["mrn"])
	name := strings.TrimSpace(reading.Fields["name"])
	if mrn == "" && name == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "card carries neither MRN nor patient name")
	}

	patients, err := p.patients.List(ctx)
	if err != nil {
		return nil, err
	}

	if mrn != "" {
		for _, patient := range patients {
			if strings.EqualFold(patient.MRN, mrn) {
				return patient, nil
			}
		}
	}
	if name != "" {
		for _, patient := range patients {
			if strings.EqualFold(patient.Name, name) {
				return patient, nil
			}
		}
	}

	return nil, types.NewNotFoundError(types.ErrCodeNotFound,
		fmt.Sprintf("no patient matches card (mrn=%q, name=%q)", mrn, name))
}

// listCards returns the batch's card filenames, sorted, filtered to the
// configured extensions.
func (p *Processor) listCards(batchDir string) ([]string, error) {
	entries, err := os.ReadDir(batchDir)
	if err != nil {
		return nil, err
	}

	allowed := lo.Map(p.cfg.CardExtensions, func(ext string, _ int) string {
		return strings.ToLower(ext)
	})

	var cards []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if lo.Contains(allowed, ext) {
			cards = append(cards, entry.Name())
		}
	}
	sort.Strings(cards)
	return cards, nil
}

// archive moves a fully-processed batch to archive/YYYY/MM/DD/<batch>. A
// rerun of a batch name already archived that day gets a timestamp suffix.
func (p *Processor) archive(batchDir string, processedAt time.Time) error {
	dateDir := filepath.Join(p.cfg.ArchivePath, processedAt.Format("2006/01/02"))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return err
	}

	target := filepath.Join(dateDir, filepath.Base(batchDir))
	if _, err := os.Stat(target); err == nil {
		target = target + "-" + processedAt.Format("150405")
	}
	return os.Rename(batchDir, target)
}
