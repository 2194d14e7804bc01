package diagnosis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/triveda-health/platform/internal/broadcast"
	"github.com/triveda-health/platform/internal/effectiveness"
	"github.com/triveda-health/platform/internal/feedback"
	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/matching"
	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/events"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Historian reads the journaled event history of a diagnosis. Optional;
// without it the history endpoint reports the journal as disabled.
type Historian interface {
	History(ctx context.Context, diagnosisID types.ID, limit uint64) ([]events.Event, error)
}

// Handler provides the HTTP surface of the diagnostic engine
type Handler struct {
	service   *Service
	analyzer  *effectiveness.Analyzer
	fabric    *broadcast.Fabric
	historian Historian
}

// NewHandler creates a diagnosis handler. historian may be nil.
func NewHandler(service *Service, analyzer *effectiveness.Analyzer, fabric *broadcast.Fabric, historian Historian) *Handler {
	return &Handler{service: service, analyzer: analyzer, fabric: fabric, historian: historian}
}

// Routes registers the diagnosis routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/analyze", h.Analyze)
	r.Post("/feedback", h.SubmitFeedback)

	r.Route("/effectiveness", func(r chi.Router) {
		r.Get("/trending", h.Trending)
		r.Get("/worst", h.Worst)
		r.Get("/{scope}/{scopeID}", h.Effectiveness)
	})

	r.Route("/diagnoses/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/matches", h.Matches)
		r.Get("/compare", h.Compare)
		r.Get("/recommendations", h.Recommendation)
		r.Get("/history", h.History)
		r.Get("/subscribe", h.Subscribe)
	})

	return r
}

type analyzeRequest struct {
	PatientID string `json:"patient_id"`
	Kind      string `json:"kind"`

	// Exactly one of the two inputs: an uploaded image, or findings
	// entered by the practitioner
	ImageBase64 string            `json:"image_base64,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Confidence  float64           `json:"confidence,omitempty"`
}

// Analyze runs one analysis and returns the persisted diagnosis
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidInput("invalid request body: "+err.Error()))
		return
	}

	patientID, err := types.ParseID(req.PatientID)
	if err != nil {
		writeError(w, errors.InvalidInput("invalid patient_id"))
		return
	}
	kind, ok := findings.ParseKind(req.Kind)
	if !ok {
		writeError(w, errors.InvalidInput("unknown analysis kind: "+req.Kind))
		return
	}

	var d Diagnosis
	switch {
	case req.ImageBase64 != "":
		image, decodeErr := base64.StdEncoding.DecodeString(req.ImageBase64)
		if decodeErr != nil {
			writeError(w, errors.InvalidInput("image_base64 is not valid base64"))
			return
		}
		d, err = h.service.Analyze(r.Context(), patientID, kind, image)
	case len(req.Attributes) > 0:
		bag, bagErr := bagFromRequest(kind, req)
		if bagErr != nil {
			writeError(w, bagErr)
			return
		}
		d, err = h.service.RecordFindings(r.Context(), patientID, bag)
	default:
		writeError(w, errors.InvalidInput("either image_base64 or attributes is required"))
		return
	}

	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// bagFromRequest builds a finding bag from practitioner-entered
// attributes. Unlike the vision boundary, manual entry rejects
// out-of-domain values instead of dropping them.
func bagFromRequest(kind findings.AnalysisKind, req analyzeRequest) (findings.Bag, error) {
	bag := findings.NewBag(kind)
	for name, value := range req.Attributes {
		if !bag.Set(findings.Attribute(name), value) {
			return findings.Bag{}, errors.Validation("attribute outside its domain",
				map[string]string{name: value})
		}
	}
	bag.Confidence = req.Confidence
	if bag.Confidence == 0 {
		bag.Confidence = 1 // practitioner entry is authoritative
	}
	return bag, nil
}

// Get returns one diagnosis
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.InvalidInput("invalid diagnosis id"))
		return
	}

	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Matches returns the stored per-tradition match sets of a diagnosis
func (h *Handler) Matches(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.InvalidInput("invalid diagnosis id"))
		return
	}

	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Matches)
}

// traditionComparison is one tradition's view in the comparison response
type traditionComparison struct {
	Tradition findings.Tradition     `json:"tradition"`
	Best      *matching.MatchResult  `json:"best,omitempty"`
	Matches   []matching.MatchResult `json:"matches"`
}

type compareResponse struct {
	Traditions []traditionComparison `json:"traditions"`

	// Consensus lists supporting attributes shared by the best match of
	// two or more traditions
	Consensus []string `json:"consensus"`
}

// Compare presents the stored match sets side by side in canonical
// tradition order, with each tradition's best match lifted out and the
// cross-tradition consensus tags extracted
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.InvalidInput("invalid diagnosis id"))
		return
	}

	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := compareResponse{Consensus: []string{}}
	attrVotes := make(map[string]int)
	for _, tradition := range findings.Traditions() {
		matches := d.Matches[tradition]
		tc := traditionComparison{Tradition: tradition, Matches: matches}
		if len(matches) > 0 {
			tc.Best = &matches[0]
			seen := make(map[string]struct{})
			for _, f := range matches[0].Supporting {
				if f.Contribution <= 0 {
					continue
				}
				tag := string(f.Attribute) + "=" + f.Value
				if _, dup := seen[tag]; !dup {
					seen[tag] = struct{}{}
					attrVotes[tag]++
				}
			}
		}
		resp.Traditions = append(resp.Traditions, tc)
	}
	for tag, votes := range attrVotes {
		if votes >= 2 {
			resp.Consensus = append(resp.Consensus, tag)
		}
	}
	sort.Strings(resp.Consensus)

	writeJSON(w, http.StatusOK, resp)
}

// Recommendation returns the current recommendation of a diagnosis
func (h *Handler) Recommendation(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.InvalidInput("invalid diagnosis id"))
		return
	}

	rec, err := h.service.Recommendation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// History returns the journaled events of a diagnosis, oldest first
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.InvalidInput("invalid diagnosis id"))
		return
	}
	if h.historian == nil {
		writeError(w, errors.InvalidInput("event journal is not enabled"))
		return
	}

	history, err := h.historian.History(r.Context(), id, 200)
	if err != nil {
		writeError(w, errors.Wrap(err, "failed to read history"))
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// Subscribe upgrades to a websocket delivering live updates for one
// diagnosis
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errors.InvalidInput("invalid diagnosis id"))
		return
	}
	h.fabric.ServeSubscriber(w, r, id)
}

// SubmitFeedback appends one feedback event
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var event feedback.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, errors.InvalidInput("invalid request body: "+err.Error()))
		return
	}

	if err := h.service.SubmitFeedback(r.Context(), &event); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// Effectiveness returns the snapshot of one scope
func (h *Handler) Effectiveness(w http.ResponseWriter, r *http.Request) {
	scope, ok := effectiveness.ParseScope(chi.URLParam(r, "scope"))
	if !ok {
		writeError(w, errors.InvalidInput("unknown effectiveness scope"))
		return
	}
	scopeID := chi.URLParam(r, "scopeID")
	if scopeID == "" {
		writeError(w, errors.InvalidInput("scope id is required"))
		return
	}

	snapshot, err := h.analyzer.Snapshot(r.Context(), scope, scopeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if snapshot == nil {
		writeError(w, errors.NotFound("effectiveness snapshot", scopeID))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// Trending returns the best-performing recommendations in the window
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	limit, minSamples := rankingParams(r)
	snapshots, err := h.analyzer.Trending(r.Context(), limit, minSamples)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// Worst returns the worst-performing recommendations in the window
func (h *Handler) Worst(w http.ResponseWriter, r *http.Request) {
	limit, minSamples := rankingParams(r)
	snapshots, err := h.analyzer.Worst(r.Context(), limit, minSamples)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func rankingParams(r *http.Request) (limit, minSamples int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	minSamples, _ = strconv.Atoi(r.URL.Query().Get("min_samples"))
	return limit, minSamples
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
