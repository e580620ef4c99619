package domain

import (
	"fmt"
	"regexp"
)

// KeyPrefix namespaces all keys written by the pipeline.
const KeyPrefix = "citedex:"

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Status is the source lifecycle state.
type Status string

// Source lifecycle states. READY holds if and only if the full chunk set for
// the latest ingestion attempt exists in the store.
const (
	StatusUploaded   Status = "UPLOADED"
	StatusProcessing Status = "PROCESSING"
	StatusReady      Status = "READY"
	StatusFailed     Status = "FAILED"
)

// SourceKind is the upload payload format.
type SourceKind string

// Supported payload formats.
const (
	SourceKindText SourceKind = "text"
	SourceKindPDF  SourceKind = "pdf"
)

// Summary is the generated abstract plus bullet insights for a source.
type Summary struct {
	Abstract string
	Insights []string
}

// IsZero reports whether no summary has been generated.
func (s Summary) IsZero() bool { return s.Abstract == "" && len(s.Insights) == 0 }

// Source is a researcher-submitted document (aggregate root).
// Chunks are owned exclusively by their source and are replaced wholesale on
// re-ingestion, never patched.
type Source struct {
	id             string
	userID         string
	projectID      string
	title          string
	kind           SourceKind
	status         Status
	summary        Summary
	chunkCount     int
	totalTokens    int
	embeddingModel string
	errorMsg       string
	reliability    float64
	createdAt      int64
	updatedAt      int64
}

// NewSource validates and creates a Source in the UPLOADED state.
// reliability is a trust weight in [0,1]; pass a negative value for the
// neutral default (0.5) when no citation/venue metadata is available.
func NewSource(id, userID, projectID, title string, kind SourceKind, reliability float64, now int64) (Source, error) {
	for name, v := range map[string]string{"source ID": id, "user ID": userID, "project ID": projectID} {
		if v == "" {
			return Source{}, fmt.Errorf("%s is required", name)
		}
		if len(v) > 256 {
			return Source{}, fmt.Errorf("%s too long (max 256)", name)
		}
		if !idRegex.MatchString(v) {
			return Source{}, fmt.Errorf("%s must be alphanumeric with underscores and hyphens", name)
		}
	}
	switch kind {
	case SourceKindText, SourceKindPDF:
	default:
		return Source{}, fmt.Errorf("unsupported source kind %q", kind)
	}
	if reliability > 1 {
		return Source{}, fmt.Errorf("reliability must be in [0,1], got %v", reliability)
	}
	if reliability < 0 {
		reliability = NeutralReliability
	}

	return Source{
		id:          id,
		userID:      userID,
		projectID:   projectID,
		title:       title,
		kind:        kind,
		status:      StatusUploaded,
		reliability: reliability,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// NeutralReliability is the trust weight applied when a source carries no
// citation or venue metadata.
const NeutralReliability = 0.5

// ReconstructSource creates a Source without validation (storage hydration).
func ReconstructSource(
	id, userID, projectID, title string, kind SourceKind, status Status,
	summary Summary, chunkCount, totalTokens int, embeddingModel, errorMsg string,
	reliability float64, createdAt, updatedAt int64,
) Source {
	return Source{
		id:             id,
		userID:         userID,
		projectID:      projectID,
		title:          title,
		kind:           kind,
		status:         status,
		summary:        summary,
		chunkCount:     chunkCount,
		totalTokens:    totalTokens,
		embeddingModel: embeddingModel,
		errorMsg:       errorMsg,
		reliability:    reliability,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
	}
}

// ID returns the source identifier.
func (s *Source) ID() string { return s.id }

// UserID returns the owning user identifier.
func (s *Source) UserID() string { return s.userID }

// ProjectID returns the owning project identifier.
func (s *Source) ProjectID() string { return s.projectID }

// Title returns the display title.
func (s *Source) Title() string { return s.title }

// Kind returns the upload payload format.
func (s *Source) Kind() SourceKind { return s.kind }

// Status returns the lifecycle state.
func (s *Source) Status() Status { return s.status }

// Summary returns the generated summary.
func (s *Source) Summary() Summary { return s.summary }

// ChunkCount returns the size of the persisted chunk set.
func (s *Source) ChunkCount() int { return s.chunkCount }

// TotalTokens returns the approximate token total across chunks.
func (s *Source) TotalTokens() int { return s.totalTokens }

// EmbeddingModel returns the model identifier the chunk vectors came from.
func (s *Source) EmbeddingModel() string { return s.embeddingModel }

// ErrorMsg returns the captured failure message, empty unless FAILED.
func (s *Source) ErrorMsg() string { return s.errorMsg }

// Reliability returns the trust weight in [0,1].
func (s *Source) Reliability() float64 { return s.reliability }

// CreatedAt returns the creation timestamp (unix millis).
func (s *Source) CreatedAt() int64 { return s.createdAt }

// UpdatedAt returns the last transition timestamp (unix millis).
func (s *Source) UpdatedAt() int64 { return s.updatedAt }

// MarkProcessing transitions the source into PROCESSING for a new ingestion
// attempt. Prior summary, counts, and error message become stale and are
// cleared so READY never refers to a previous attempt's chunk set.
func (s *Source) MarkProcessing(now int64) {
	s.status = StatusProcessing
	s.summary = Summary{}
	s.chunkCount = 0
	s.totalTokens = 0
	s.embeddingModel = ""
	s.errorMsg = ""
	s.updatedAt = now
}

// MarkReady transitions the source into READY with the outcome of a
// successful ingestion.
func (s *Source) MarkReady(chunkCount, totalTokens int, summary Summary, embeddingModel string, now int64) {
	s.status = StatusReady
	s.chunkCount = chunkCount
	s.totalTokens = totalTokens
	s.summary = summary
	s.embeddingModel = embeddingModel
	s.errorMsg = ""
	s.updatedAt = now
}

// MarkFailed transitions the source into FAILED, retaining a human-readable
// message so the UI can prompt a retry.
func (s *Source) MarkFailed(msg string, now int64) {
	s.status = StatusFailed
	s.errorMsg = msg
	s.updatedAt = now
}

// UploadPayload is the raw uploaded content pending ingestion.
// Content is plain text for text sources and base64 for binary sources.
type UploadPayload struct {
	Kind    SourceKind
	Content string
}
