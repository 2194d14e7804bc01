package diagnosis

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/shared/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t, fakeVision{response: heatResponse})
	handler := NewHandler(f.service, f.analyzer, f.fabric, nil)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return server, f
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestAnalyzeEndpoint(t *testing.T) {
	server, f := newTestServer(t)
	profile := f.newPatient(t)

	resp := postJSON(t, server.URL+"/analyze", map[string]any{
		"patient_id":   profile.ID.String(),
		"kind":         "tongue",
		"image_base64": base64.StdEncoding.EncodeToString(jpegImage),
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var d Diagnosis
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Status != StatusComplete {
		t.Errorf("status = %s, want complete", d.Status)
	}
	if len(d.Matches[findings.TraditionTCM]) != 1 {
		t.Errorf("TCM matches = %d, want 1", len(d.Matches[findings.TraditionTCM]))
	}
}

func TestAnalyzeEndpointManualFindings(t *testing.T) {
	server, f := newTestServer(t)
	profile := f.newPatient(t)

	resp := postJSON(t, server.URL+"/analyze", map[string]any{
		"patient_id": profile.ID.String(),
		"kind":       "tongue",
		"attributes": map[string]string{
			"color": "red", "coating": "yellow", "moisture": "dry", "shape": "normal",
		},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
}

func TestAnalyzeEndpointValidation(t *testing.T) {
	server, f := newTestServer(t)
	profile := f.newPatient(t)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"bad patient id", map[string]any{"patient_id": "nope", "kind": "tongue", "image_base64": "aaaa"}, http.StatusBadRequest},
		{"unknown kind", map[string]any{"patient_id": profile.ID.String(), "kind": "aura", "image_base64": "aaaa"}, http.StatusBadRequest},
		{"missing input", map[string]any{"patient_id": profile.ID.String(), "kind": "tongue"}, http.StatusBadRequest},
		{"bad base64", map[string]any{"patient_id": profile.ID.String(), "kind": "tongue", "image_base64": "!!!"}, http.StatusBadRequest},
		{"out of domain attribute", map[string]any{"patient_id": profile.ID.String(), "kind": "tongue",
			"attributes": map[string]string{"color": "plaid"}}, http.StatusBadRequest},
		{"unknown patient", map[string]any{"patient_id": types.NewID().String(), "kind": "tongue",
			"attributes": map[string]string{"color": "red"}}, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, server.URL+"/analyze", tc.body)
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestDiagnosisEndpoints(t *testing.T) {
	server, f := newTestServer(t)
	profile := f.newPatient(t)

	resp := postJSON(t, server.URL+"/analyze", map[string]any{
		"patient_id":   profile.ID.String(),
		"kind":         "tongue",
		"image_base64": base64.StdEncoding.EncodeToString(jpegImage),
	})
	var d Diagnosis
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	get := func(path string) *http.Response {
		r, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		return r
	}

	t.Run("get diagnosis", func(t *testing.T) {
		r := get("/diagnoses/" + d.ID.String())
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Errorf("status = %d", r.StatusCode)
		}
	})

	t.Run("matches", func(t *testing.T) {
		r := get("/diagnoses/" + d.ID.String() + "/matches")
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Errorf("status = %d", r.StatusCode)
		}
	})

	t.Run("compare carries consensus", func(t *testing.T) {
		r := get("/diagnoses/" + d.ID.String() + "/compare")
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", r.StatusCode)
		}
		var cmp compareResponse
		if err := json.NewDecoder(r.Body).Decode(&cmp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(cmp.Traditions) != 3 {
			t.Errorf("traditions = %d, want 3", len(cmp.Traditions))
		}
		// color=red supports the best match of all three traditions
		found := false
		for _, tag := range cmp.Consensus {
			if tag == "color=red" {
				found = true
			}
		}
		if !found {
			t.Errorf("consensus missing color=red: %v", cmp.Consensus)
		}
	})

	t.Run("recommendations", func(t *testing.T) {
		r := get("/diagnoses/" + d.ID.String() + "/recommendations")
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Errorf("status = %d", r.StatusCode)
		}
	})

	t.Run("history without journal", func(t *testing.T) {
		r := get("/diagnoses/" + d.ID.String() + "/history")
		defer r.Body.Close()
		if r.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", r.StatusCode)
		}
	})

	t.Run("unknown diagnosis", func(t *testing.T) {
		r := get("/diagnoses/" + types.NewID().String())
		defer r.Body.Close()
		if r.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", r.StatusCode)
		}
	})
}

func TestFeedbackEndpoint(t *testing.T) {
	server, f := newTestServer(t)
	profile := f.newPatient(t)

	resp := postJSON(t, server.URL+"/analyze", map[string]any{
		"patient_id":   profile.ID.String(),
		"kind":         "tongue",
		"image_base64": base64.StdEncoding.EncodeToString(jpegImage),
	})
	var d Diagnosis
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	rec, err := f.service.Recommendation(t.Context(), d.ID)
	if err != nil {
		t.Fatalf("Recommendation: %v", err)
	}

	body := map[string]any{
		"recommendation_id":   rec.ID.String(),
		"created_at":          "2026-08-01T10:00:00Z",
		"symptom_improvement": 4,
	}
	first := postJSON(t, server.URL+"/feedback", body)
	first.Body.Close()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", first.StatusCode)
	}

	dup := postJSON(t, server.URL+"/feedback", body)
	dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", dup.StatusCode)
	}

	missing := postJSON(t, server.URL+"/feedback", map[string]any{
		"recommendation_id":   types.NewID().String(),
		"symptom_improvement": 4,
	})
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing recommendation status = %d, want 404", missing.StatusCode)
	}

	t.Run("effectiveness after feedback", func(t *testing.T) {
		url := fmt.Sprintf("%s/effectiveness/recommendation/%s", server.URL, rec.ID)
		r, err := http.Get(url)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", r.StatusCode)
		}
	})

	t.Run("unknown scope", func(t *testing.T) {
		r, err := http.Get(server.URL + "/effectiveness/bogus/x")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", r.StatusCode)
		}
	})

	t.Run("trending", func(t *testing.T) {
		r, err := http.Get(server.URL + "/effectiveness/trending?limit=10&min_samples=1")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", r.StatusCode)
		}
	})
}
