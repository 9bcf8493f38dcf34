package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/banshee-data/cartvision/internal/alerts"
	"github.com/banshee-data/cartvision/internal/catalog"
	"github.com/banshee-data/cartvision/internal/db"
	"github.com/banshee-data/cartvision/internal/engine"
	"github.com/banshee-data/cartvision/internal/events"
	"github.com/banshee-data/cartvision/internal/httputil"
	"github.com/banshee-data/cartvision/internal/reconcile"
	"github.com/banshee-data/cartvision/internal/session"
	"github.com/banshee-data/cartvision/internal/version"
	"github.com/banshee-data/cartvision/internal/vision/geometry"
)

func (s *Server) writeError(w http.ResponseWriter, err error) {
	httputil.WriteJSONError(w, statusFor(err), err.Error())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":          "ok",
		"version":         version.String(),
		"active_sessions": len(s.engine.ActiveSessions()),
	})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"active": s.engine.ActiveSessions()}
	if s.store != nil {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 500 {
				httputil.BadRequest(w, "invalid 'limit' parameter")
				return
			}
			limit = n
		}
		recent, err := s.store.RecentSessions(r.Context(), limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp["recent"] = recent
	}
	httputil.WriteJSONOK(w, resp)
}

type startSessionRequest struct {
	SessionID  string                    `json:"session_id"`
	ManifestID string                    `json:"manifest_id"`
	Manifest   *[]reconcile.ManifestLine `json:"manifest"`
	ROI        []float64                 `json:"roi"`
	Policy     string                    `json:"policy"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := httputil.DecodeJSON(w, r, &req, 0, true); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var opts []engine.SessionOption
	if req.Manifest != nil {
		lines, err := reconcile.NormalizeManifest(*req.Manifest)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		opts = append(opts, engine.WithManifest(lines))
	}
	if req.ManifestID != "" {
		opts = append(opts, engine.WithManifestID(req.ManifestID))
	}
	if req.ROI != nil {
		roi, err := geometry.ParseBox(req.ROI)
		if err != nil {
			httputil.BadRequest(w, "roi: "+err.Error())
			return
		}
		opts = append(opts, engine.WithROI(roi))
	}
	if req.Policy != "" {
		p, err := session.ParsePolicy(req.Policy)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		opts = append(opts, engine.WithPolicy(p))
	}

	id, err := s.engine.StartSession(r.Context(), req.SessionID, opts...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

type storedSession struct {
	db.SessionRecord
	Events []events.Detection     `json:"events"`
	Diff   []reconcile.DiffResult `json:"diff"`
	Alerts []alerts.AlertRecord   `json:"alerts"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if slices.Contains(s.engine.ActiveSessions(), id) {
		httputil.WriteJSONOK(w, map[string]interface{}{"session_id": id, "status": "active"})
		return
	}
	if s.store == nil {
		httputil.NotFound(w, fmt.Sprintf("session %q not found", id))
		return
	}

	ctx := r.Context()
	rec, err := s.store.Session(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := storedSession{SessionRecord: rec}
	if out.Events, err = s.store.SessionEvents(ctx, id); err != nil {
		s.writeError(w, err)
		return
	}
	if out.Diff, err = s.store.SessionDiff(ctx, id); err != nil {
		s.writeError(w, err)
		return
	}
	if out.Alerts, err = s.store.SessionAlerts(ctx, id); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, out)
}

type frameResponse struct {
	SessionID  string             `json:"session_id"`
	FrameID    string             `json:"frame_id,omitempty"`
	Detections []events.Detection `json:"detections"`
}

func frameID(r *http.Request) string {
	if id := r.URL.Query().Get("frame_id"); id != "" {
		return id
	}
	return r.Header.Get("X-Frame-ID")
}

// readBody reads a bounded, non-empty request body.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxFrameBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooBig.Limit))
			return nil, false
		}
		httputil.BadRequest(w, "failed to read body")
		return nil, false
	}
	if len(body) == 0 {
		httputil.BadRequest(w, "empty body")
		return nil, false
	}
	return body, true
}

func (s *Server) submitFrame(w http.ResponseWriter, r *http.Request) {
	s.handleFrame(w, r, s.engine.SubmitFrame)
}

func (s *Server) submitDetections(w http.ResponseWriter, r *http.Request) {
	s.handleFrame(w, r, s.engine.SubmitDetections)
}

type submitFunc func(ctx context.Context, id, frameID string, body []byte) ([]events.Detection, error)

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request, submit submitFunc) {
	id := mux.Vars(r)["id"]
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	fid := frameID(r)
	dets, err := submit(r.Context(), id, fid, body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if dets == nil {
		dets = []events.Detection{}
	}
	httputil.WriteJSONOK(w, frameResponse{SessionID: id, FrameID: fid, Detections: dets})
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.EndSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sum)
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	var manifest []reconcile.ManifestLine
	if mid := r.URL.Query().Get("manifest_id"); mid != "" {
		if s.store == nil {
			httputil.NotFound(w, "no manifest store configured")
			return
		}
		lines, err := s.store.Manifest(r.Context(), mid)
		if err != nil {
			s.writeError(w, err)
			return
		}
		manifest = lines
	}

	image, ok := s.readBody(w, r)
	if !ok {
		return
	}
	res, err := s.engine.Scan(r.Context(), image, manifest)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.NotFound(w, "no catalog store configured")
		return
	}
	products, err := s.store.Products(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if products == nil {
		products = []catalog.Entry{}
	}
	httputil.WriteJSONOK(w, products)
}

func (s *Server) importProducts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.NotFound(w, "no catalog store configured")
		return
	}
	var entries []catalog.Entry
	if err := httputil.DecodeJSON(w, r, &entries, 0, false); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	for i, e := range entries {
		if e.ProductID == "" || e.Name == "" {
			httputil.BadRequest(w, fmt.Sprintf("product %d: product_id and name are required", i))
			return
		}
	}
	if err := s.store.ImportProducts(r.Context(), entries); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]int{"imported": len(entries)})
}

func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.NotFound(w, "no manifest store configured")
		return
	}
	id := mux.Vars(r)["id"]
	lines, err := s.store.Manifest(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"manifest_id": id, "lines": lines})
}

func (s *Server) putManifest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		httputil.NotFound(w, "no manifest store configured")
		return
	}
	id := mux.Vars(r)["id"]
	var lines []reconcile.ManifestLine
	if err := httputil.DecodeJSON(w, r, &lines, 0, false); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	lines, err := reconcile.NormalizeManifest(lines)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.store.ReplaceManifest(r.Context(), id, lines); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"manifest_id": id, "lines": len(lines)})
}
