package similarity

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/requora/reqcore/internal/model"
	"github.com/requora/reqcore/internal/store"
)

// Default thresholds for the single-item check.
const (
	DefaultTitleThreshold   = 0.85
	DefaultContentThreshold = 0.80
	DefaultScanWindow       = 500
)

// Corpus is the slice of the store the detector reads and (optionally) flips.
type Corpus interface {
	ListRequirements(ctx context.Context, filter store.RequirementFilter) ([]model.Requirement, error)
	UpdateRequirementStatus(ctx context.Context, id string, status model.RequirementStatus) error
}

// Detector checks candidate text against the persisted requirement corpus.
type Detector struct {
	corpus Corpus

	titleThreshold   float64
	contentThreshold float64
	window           int
}

// Option configures a Detector.
type Option func(*Detector)

// WithThresholds overrides the title/content similarity thresholds.
func WithThresholds(title, content float64) Option {
	return func(d *Detector) {
		d.titleThreshold = title
		d.contentThreshold = content
	}
}

// WithWindow overrides how many recent records a single-item check scans.
func WithWindow(n int) Option {
	return func(d *Detector) { d.window = n }
}

// NewDetector creates a duplicate detector over the given corpus.
func NewDetector(corpus Corpus, opts ...Option) *Detector {
	d := &Detector{
		corpus:           corpus,
		titleThreshold:   DefaultTitleThreshold,
		contentThreshold: DefaultContentThreshold,
		window:           DefaultScanWindow,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// CheckDuplicate compares one title (and optional content) against the most
// recent non-deprecated records. An exact normalized title match wins
// immediately; otherwise the first record over either threshold is reported.
// This is a first-match scan, not a nearest-match search.
func (d *Detector) CheckDuplicate(ctx context.Context, title, content string) (*model.SimilarityVerdict, error) {
	records, err := d.corpus.ListRequirements(ctx, store.RequirementFilter{
		Status:      model.RequirementActive,
		Limit:       d.window,
		NewestFirst: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "similarity: list requirements")
	}

	normTitle := Normalize(title)
	for _, r := range records {
		if Normalize(r.Title) == normTitle && normTitle != "" {
			return &model.SimilarityVerdict{
				Duplicate: true,
				Match:     model.MatchExact,
				MatchedID: r.ID,
				Score:     1.0,
			}, nil
		}
	}

	for _, r := range records {
		titleScore := Score(title, r.Title)
		if titleScore >= d.titleThreshold {
			return &model.SimilarityVerdict{
				Duplicate: true,
				Match:     model.MatchSimilar,
				MatchedID: r.ID,
				Score:     titleScore,
			}, nil
		}
		if content != "" && r.Content != "" {
			if contentScore := Score(content, r.Content); contentScore >= d.contentThreshold {
				return &model.SimilarityVerdict{
					Duplicate: true,
					Match:     model.MatchSimilar,
					MatchedID: r.ID,
					Score:     contentScore,
				}, nil
			}
		}
	}

	return &model.SimilarityVerdict{Match: model.MatchNone}, nil
}

// ScanSummary reports the outcome of a full corpus scan.
type ScanSummary struct {
	Scanned    int           `json:"scanned"`
	Clusters   []ScanCluster `json:"clusters"`
	Duplicates int           `json:"duplicates"`
	Deprecated int           `json:"deprecated"`
}

// ScanCluster groups one canonical record with its detected duplicates.
type ScanCluster struct {
	CanonicalID  string   `json:"canonical_id"`
	DuplicateIDs []string `json:"duplicate_ids"`
}

// ScanDuplicates performs a pairwise scan over all active records, oldest
// first. The earliest record of a matching cluster stays canonical; later
// matches are reported as duplicates and, when deprecate is set, flipped to
// the deprecated status.
func (d *Detector) ScanDuplicates(ctx context.Context, deprecate bool) (*ScanSummary, error) {
	records, err := d.corpus.ListRequirements(ctx, store.RequirementFilter{
		Status: model.RequirementActive,
	})
	if err != nil {
		return nil, eris.Wrap(err, "similarity: list requirements")
	}

	summary := &ScanSummary{Scanned: len(records)}
	claimed := make(map[string]bool, len(records))

	for i := 0; i < len(records); i++ {
		if claimed[records[i].ID] {
			continue
		}
		var cluster ScanCluster
		for j := i + 1; j < len(records); j++ {
			if claimed[records[j].ID] {
				continue
			}
			titleScore := Score(records[i].Title, records[j].Title)
			contentScore := 0.0
			if records[i].Content != "" && records[j].Content != "" {
				contentScore = Score(records[i].Content, records[j].Content)
			}
			if titleScore < d.titleThreshold && contentScore < d.contentThreshold {
				continue
			}

			claimed[records[j].ID] = true
			cluster.DuplicateIDs = append(cluster.DuplicateIDs, records[j].ID)

			if deprecate {
				if err := d.corpus.UpdateRequirementStatus(ctx, records[j].ID, model.RequirementDeprecated); err != nil {
					zap.L().Warn("similarity: deprecate failed",
						zap.String("id", records[j].ID),
						zap.Error(err),
					)
					continue
				}
				summary.Deprecated++
			}
		}
		if len(cluster.DuplicateIDs) > 0 {
			cluster.CanonicalID = records[i].ID
			summary.Clusters = append(summary.Clusters, cluster)
			summary.Duplicates += len(cluster.DuplicateIDs)
		}
	}

	return summary, nil
}
