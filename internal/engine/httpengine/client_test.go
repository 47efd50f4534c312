package httpengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tendant/xtal-pipeline/internal/capture"
	"github.com/tendant/xtal-pipeline/internal/config"
	"github.com/tendant/xtal-pipeline/internal/crystal"
	"github.com/tendant/xtal-pipeline/internal/engine"
	"github.com/tendant/xtal-pipeline/internal/engine/imagespots"
)

func TestFindSpotsEchoesConsole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/find_spots" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req spotsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Image != "/data/img_00001.cbf" {
			t.Errorf("image = %q", req.Image)
		}
		json.NewEncoder(w).Encode(reflectionsResponse{
			Reflections: crystal.ObservationSet{{Intensity: 100, Sigma: 10}, {Intensity: 50, Sigma: 5}},
			Console:     []string{"Finding strong spots", "Found 2 strong pixels"},
		})
	}))
	defer srv.Close()

	buf := capture.NewBuffer()
	ctx := capture.WithConsole(context.Background(), buf)

	spots, err := New(srv.URL).FindSpots(ctx, "/data/img_00001.cbf", config.DefaultProcessing())
	if err != nil {
		t.Fatalf("FindSpots: %v", err)
	}
	if len(spots) != 2 {
		t.Fatalf("expected 2 spots, got %d", len(spots))
	}
	lines := buf.Lines()
	if len(lines) != 2 || lines[1] != "Found 2 strong pixels" {
		t.Fatalf("console not captured: %q", lines)
	}
}

func TestClassedErrorIsPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(errorResponse{Class: "Sorry", Message: "No suitable lattice could be found."})
	}))
	defer srv.Close()

	_, _, err := New(srv.URL).Index(context.Background(), "img.cbf", config.DefaultProcessing(), nil)
	var engErr *engine.Error
	if !errors.As(err, &engErr) {
		t.Fatalf("expected *engine.Error, got %T %v", err, err)
	}
	if engErr.ClassName() != "Sorry" || !strings.Contains(engErr.Message, "lattice") {
		t.Fatalf("unexpected error %+v", engErr)
	}
}

func TestUnstructuredErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Integrate(context.Background(), config.DefaultProcessing(), &crystal.Model{}, nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status in error, got %v", err)
	}
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		t.Fatalf("plain HTTP failure must not be classed")
	}
}

func TestBravaisFailureAppliesReportedCrystal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/bravais_settings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req bravaisRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.LepageMaxDelta != 5 || req.OutlierAlgorithm != "tukey" {
			t.Errorf("candidate params not forwarded: %+v", req)
		}
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(errorResponse{
			Class:   "RuntimeError",
			Message: "refinement diverged",
			Crystal: &crystal.Model{SpaceGroup: "P 2", Cell: crystal.NewUnitCell([6]float64{1, 2, 3, 90, 90, 90})},
		})
	}))
	defer srv.Close()

	model := &crystal.Model{SpaceGroup: "P 1"}
	params := engine.CandidateParams{OutlierAlgorithm: "tukey", LepageMaxDelta: 5, RefinerVerbosity: 10}
	_, err := New(srv.URL).GenerateBravaisCandidates(context.Background(), params, model, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if model.SpaceGroup != "P 2" {
		t.Fatalf("engine-side mutation not applied, space group %q", model.SpaceGroup)
	}
}

func TestRefineSendsOnlyActiveReflections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req modelRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Reflections) != 1 {
			t.Errorf("expected 1 active reflection, got %d", len(req.Reflections))
		}
		json.NewEncoder(w).Encode(modelResponse{Crystal: req.Crystal, Reflections: req.Reflections})
	}))
	defer srv.Close()

	indexed := crystal.ObservationSet{
		{Index: crystal.MillerIndex{1, 0, 0}},
		{Excluded: true},
	}
	model, refl, err := New(srv.URL).Refine(context.Background(), config.DefaultProcessing(), &crystal.Model{SpaceGroup: "P 1"}, indexed)
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if model.SpaceGroup != "P 1" || len(refl) != 1 {
		t.Fatalf("unexpected refine result %v %d", model, len(refl))
	}
}

func TestCompositeServesSpotsLocally(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(modelResponse{Crystal: &crystal.Model{SpaceGroup: "P 1"}})
	}))
	defer srv.Close()

	remote := New(srv.URL, WithRateLimit(0, 0))
	eng := engine.Composite{
		Spots:       imagespots.New(),
		Indexing:    remote,
		Candidates:  remote,
		Refinement:  remote,
		Integration: remote,
	}
	if _, _, err := eng.Index(context.Background(), "img.png", config.DefaultProcessing(), nil); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one remote call, got %d", calls)
	}
}
