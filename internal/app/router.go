package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/calibration"
	"github.com/relabs-tech/device_mapper/internal/device"
	"github.com/relabs-tech/device_mapper/internal/interpreter"
	"github.com/relabs-tech/device_mapper/internal/mapper"
	"github.com/relabs-tech/device_mapper/internal/mapping"
	"github.com/relabs-tech/device_mapper/internal/observability"
	"github.com/relabs-tech/device_mapper/internal/orientation"
	"github.com/relabs-tech/device_mapper/internal/persist"
	"github.com/relabs-tech/device_mapper/internal/render"
	"github.com/relabs-tech/device_mapper/internal/store"
)

// Profiles is the named document repository behind /api/profiles.
type Profiles interface {
	Save(ctx context.Context, name string, doc persist.Document) (store.Summary, error)
	Load(ctx context.Context, name string) (persist.Document, error)
	List(ctx context.Context) ([]store.Summary, error)
	Delete(ctx context.Context, name string) error
}

type server struct {
	svc      *mapper.Service
	devices  *device.Store
	profiles Profiles
	logger   *zap.Logger
	now      func() time.Time
	interval time.Duration
}

// RouterOption configures NewRouter.
type RouterOption func(*server)

// WithStatusInterval sets how often the calibration socket reports
// progress.
func WithStatusInterval(d time.Duration) RouterOption {
	return func(s *server) { s.interval = d }
}

// NewRouter exposes svc over HTTP. profiles may be nil, in which case the
// profile endpoints answer 503.
func NewRouter(svc *mapper.Service, devices *device.Store, profiles Profiles, logger *zap.Logger, opts ...RouterOption) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{
		svc:      svc,
		devices:  devices,
		profiles: profiles,
		logger:   logger,
		now:      time.Now,
		interval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/inputs", s.listInputs)

		r.Get("/targets", s.listTargets)
		r.Put("/targets/{target}", s.putTarget)
		r.Delete("/targets/{target}", s.deleteTarget)

		r.Get("/bindings", s.listBindings)
		r.Put("/bindings/{target}/{kind}", s.putBinding)
		r.Delete("/bindings/{target}/{kind}", s.deleteBinding)

		r.Get("/document", s.getDocument)
		r.Put("/document", s.putDocument)

		r.Get("/profiles", s.listProfiles)
		r.Get("/profiles/{name}", s.getProfile)
		r.Put("/profiles/{name}", s.putProfile)
		r.Post("/profiles/{name}/restore", s.restoreProfile)
		r.Delete("/profiles/{name}", s.deleteProfile)

		r.Get("/calibration", s.getCalibration)
		r.Get("/preview/{target}/{kind}.webp", s.preview)
	})
	r.Get("/ws/calibration", s.calibrationWS)
	return r
}

type httpError struct {
	status int
	err    error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

func statusFor(err error) int {
	var he *httpError
	switch {
	case errors.As(err, &he):
		return he.status
	case errors.Is(err, mapper.ErrUnknownTarget), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mapper.ErrTargetExists),
		errors.Is(err, calibration.ErrSessionActive),
		errors.Is(err, calibration.ErrNoSession),
		errors.Is(err, interpreter.ErrUnbound):
		return http.StatusConflict
	case errors.Is(err, interpreter.ErrNotCalibratable):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("json encode error", zap.Error(err))
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func kindParam(r *http.Request) (axis.Kind, error) {
	k, err := axis.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return 0, badRequest("%v", err)
	}
	return k, nil
}

func (s *server) listInputs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.devices.Inputs())
}

func (s *server) listTargets(w http.ResponseWriter, _ *http.Request) {
	var names []string
	s.svc.Do(func(reg *mapper.Registry) error {
		names = reg.Targets()
		return nil
	})
	s.writeJSON(w, http.StatusOK, names)
}

func (s *server) putTarget(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	err := s.svc.Do(func(reg *mapper.Registry) error {
		return reg.AddTarget(name, interpreter.NewRecordingSink(orientation.Vec3{}, orientation.Vec3{}))
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"target": name})
}

func (s *server) deleteTarget(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	if err := s.svc.Do(func(reg *mapper.Registry) error { return reg.RemoveTarget(name) }); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BindingView is one bound property as the API reports it.
type BindingView struct {
	Target          string                 `json:"target"`
	Kind            axis.Kind              `json:"kind"`
	State           string                 `json:"state"`
	Mode            axis.Mode              `json:"mode"`
	UseOnThisObject bool                   `json:"use_on_this_object"`
	Mappings        []mapping.InputMapping `json:"mappings"`
	Value           any                    `json:"value"`
}

func (s *server) listBindings(w http.ResponseWriter, _ *http.Request) {
	views := []BindingView{}
	s.svc.Do(func(reg *mapper.Registry) error {
		reg.Each(func(b *mapper.Binding) {
			if !b.Bound() {
				return
			}
			in := b.Interpreter
			views = append(views, BindingView{
				Target:          b.Target,
				Kind:            b.Kind,
				State:           in.State().String(),
				Mode:            in.Mode(),
				UseOnThisObject: in.UseOnThisObject(),
				Mappings:        b.Property.Mappings(),
				Value:           in.Value().Field(b.Kind),
			})
		})
		return nil
	})
	s.writeJSON(w, http.StatusOK, views)
}

// Range is the world range of one axis.
type Range struct {
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Center *float64 `json:"center,omitempty"`
	Clamp  *bool    `json:"clamp,omitempty"`
}

// BindRequest replaces the mappings of a property and optionally tunes
// how it is interpreted. Axis maps are keyed by axis name.
type BindRequest struct {
	Mappings        []mapping.InputMapping `json:"mappings"`
	Mode            *axis.Mode             `json:"mode,omitempty"`
	UseOnThisObject *bool                  `json:"use_on_this_object,omitempty"`
	InvertLogic     *bool                  `json:"invert_logic,omitempty"`
	Output          map[string]Range       `json:"output,omitempty"`
	Speed           map[string]float64     `json:"speed,omitempty"`
	Tolerance       map[string]float64     `json:"tolerance,omitempty"`
}

func parseAxes[T any](k axis.Kind, m map[string]T) (map[axis.Axis]T, error) {
	out := make(map[axis.Axis]T, len(m))
	for name, v := range m {
		a, err := axis.ParseAxis(name)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		if !drives(k, a) {
			return nil, badRequest("%s does not drive axis %s", k, a)
		}
		out[a] = v
	}
	return out, nil
}

func drives(k axis.Kind, a axis.Axis) bool {
	for _, x := range k.Axes() {
		if x == a {
			return true
		}
	}
	return false
}

func (s *server) putBinding(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	k, err := kindParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req BindRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.Mappings) != k.MappingCount() {
		s.writeError(w, badRequest("%s needs %d mappings, got %d", k, k.MappingCount(), len(req.Mappings)))
		return
	}
	output, err := parseAxes(k, req.Output)
	if err != nil {
		s.writeError(w, err)
		return
	}
	speed, err := parseAxes(k, req.Speed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tolerance, err := parseAxes(k, req.Tolerance)
	if err != nil {
		s.writeError(w, err)
		return
	}

	err = s.svc.Do(func(reg *mapper.Registry) error {
		if err := reg.Bind(name, k, req.Mappings); err != nil {
			return err
		}
		b, err := reg.Binding(name, k)
		if err != nil {
			return err
		}
		in := b.Interpreter
		if req.Mode != nil {
			in.SetMode(*req.Mode)
		}
		if req.UseOnThisObject != nil {
			in.SetUseOnThisObject(*req.UseOnThisObject)
		}
		if req.InvertLogic != nil {
			in.Profile().SetInvertLogic(axis.Bool, *req.InvertLogic)
		}
		p := in.Profile()
		for a, rg := range output {
			p.SetOutputMin(a, rg.Min)
			p.SetOutputMax(a, rg.Max)
			if rg.Center != nil {
				p.SetOutputCenter(a, *rg.Center)
			}
			if rg.Clamp != nil {
				p.SetClamp(a, *rg.Clamp)
			}
		}
		for a, v := range speed {
			in.Additive().SetMaxSpeed(a, v)
		}
		for a, v := range tolerance {
			in.Additive().SetTolerance(a, v)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deleteBinding(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	k, err := kindParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.svc.Do(func(reg *mapper.Registry) error { return reg.Unbind(name, k) }); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func documentFormat(r *http.Request) persist.Format {
	if strings.EqualFold(r.URL.Query().Get("format"), "yaml") ||
		strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		return persist.YAML
	}
	return persist.JSON
}

func (s *server) snapshot() persist.Document {
	var doc persist.Document
	s.svc.Do(func(reg *mapper.Registry) error {
		doc = persist.Snapshot(reg)
		return nil
	})
	return doc
}

func (s *server) restore(doc persist.Document) error {
	return s.svc.Do(func(reg *mapper.Registry) error { return persist.Restore(reg, doc) })
}

func (s *server) getDocument(w http.ResponseWriter, r *http.Request) {
	f := documentFormat(r)
	var buf bytes.Buffer
	if err := persist.Encode(&buf, s.snapshot(), f); err != nil {
		s.writeError(w, err)
		return
	}
	if f == persist.YAML {
		w.Header().Set("Content-Type", "application/yaml")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Write(buf.Bytes())
}

func (s *server) putDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := persist.Decode(r.Body, documentFormat(r))
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	if err := s.restore(doc); err != nil {
		s.writeError(w, &httpError{status: http.StatusUnprocessableEntity, err: err})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) requireProfiles(w http.ResponseWriter) bool {
	if s.profiles == nil {
		s.writeError(w, &httpError{status: http.StatusServiceUnavailable, err: errors.New("profile store not configured")})
		return false
	}
	return true
}

func (s *server) listProfiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireProfiles(w) {
		return
	}
	list, err := s.profiles.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *server) getProfile(w http.ResponseWriter, r *http.Request) {
	if !s.requireProfiles(w) {
		return
	}
	doc, err := s.profiles.Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

// putProfile saves the current session under name.
func (s *server) putProfile(w http.ResponseWriter, r *http.Request) {
	if !s.requireProfiles(w) {
		return
	}
	sum, err := s.profiles.Save(r.Context(), chi.URLParam(r, "name"), s.snapshot())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *server) restoreProfile(w http.ResponseWriter, r *http.Request) {
	if !s.requireProfiles(w) {
		return
	}
	doc, err := s.profiles.Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.restore(doc); err != nil {
		s.writeError(w, &httpError{status: http.StatusUnprocessableEntity, err: err})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if !s.requireProfiles(w) {
		return
	}
	if err := s.profiles.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CalibrationStatus is the live session and the last finished one.
type CalibrationStatus struct {
	Active *calibration.Info `json:"active"`
	Last   *mapper.Outcome   `json:"last"`
}

func (s *server) getCalibration(w http.ResponseWriter, _ *http.Request) {
	var st CalibrationStatus
	if info, ok := s.svc.Calibration(s.now()); ok {
		st.Active = &info
	}
	if out, ok := s.svc.LastOutcome(); ok {
		st.Last = &out
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *server) preview(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "target")
	k, err := kindParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var rows []render.Row
	err = s.svc.Do(func(reg *mapper.Registry) error {
		b, err := reg.Binding(name, k)
		if err != nil {
			return err
		}
		in := b.Interpreter
		var readings [axis.Count]float64
		for _, a := range k.Axes() {
			readings[a] = in.Reading(a)
		}
		rows = render.Rows(k, in.Profile(), readings, in.Value())
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := render.EncodeWebP(&buf, render.Panel(name+" "+k.String(), rows)); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}
