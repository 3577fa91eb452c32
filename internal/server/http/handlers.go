package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/internal/update/registry"
	"github.com/autopeer-io/skypeer/internal/update/session"
)

// maxBodySize bounds request bodies.
const maxBodySize = 64 << 10

// Session kinds accepted by POST /v1/sessions.
const (
	kindFirmware = "firmware"
	kindApps     = "apps"
	kindCheck    = "check"
)

type startRequest struct {
	Kind            string `json:"kind"`
	CheckOnly       bool   `json:"checkOnly"`
	DeleteInstalled bool   `json:"deleteInstalled"`
}

type appVersionsRequest struct {
	Datapilot  string `json:"datapilot"`
	UpdaterApp string `json:"updaterApp"`
	ST16S      string `json:"st16s"`
}

type versionView struct {
	Component       core.Component     `json:"component"`
	Instruction     core.Instruction   `json:"instruction"`
	Installed       string             `json:"installed"`
	Latest          string             `json:"latest"`
	InstalledRecord core.VersionRecord `json:"installedRecord"`
}

func newVersionView(e registry.Entry) versionView {
	return versionView{
		Component:       e.Component,
		Instruction:     e.Instruction,
		Installed:       e.Installed.String(),
		Latest:          e.Latest.String(),
		InstalledRecord: e.Installed,
	}
}

type resultView struct {
	core.Result
	Error string `json:"error,omitempty"`
}

type sessionView struct {
	session.Snapshot
	Results []resultView `json:"results,omitempty"`
}

func newSessionView(s *session.Session) sessionView {
	v := sessionView{Snapshot: s.Snapshot()}
	for _, r := range s.Results() {
		rv := resultView{Result: r}
		if r.Err != nil {
			rv.Error = r.Err.Error()
		}
		v.Results = append(v.Results, rv)
	}
	return v
}

func (s *Server) listVersions(w http.ResponseWriter, _ *http.Request) {
	entries := s.orch.Versions()
	out := make([]versionView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newVersionView(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	c, err := core.ParseComponent(mux.Vars(r)["component"])
	if err != nil || !c.IsConcrete() {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown component %q", mux.Vars(r)["component"]))
		return
	}
	for _, e := range s.orch.Versions() {
		if e.Component == c {
			writeJSON(w, http.StatusOK, newVersionView(e))
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("no record for %s", c))
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	progress := func(p int, st core.State, c core.Component) {
		s.logger.Debug("Progress", "component", c, "state", st, "progress", p)
	}
	versionFn := func(c core.Component, i core.Instruction, latest, installed string) {
		s.logger.Info("Version checked", "component", c, "instruction", i, "latest", latest, "installed", installed)
	}

	var (
		sess *session.Session
		err  error
	)
	switch req.Kind {
	case kindFirmware:
		sess, err = s.orch.DoFirmwareUpdate(r.Context(), progress)
	case kindApps:
		sess, err = s.orch.DoAppUpdate(r.Context(), progress, versionFn, req.CheckOnly)
	case kindCheck:
		sess, err = s.orch.DoVersionCheck(r.Context(), versionFn, req.DeleteInstalled)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("kind must be %q, %q or %q", kindFirmware, kindApps, kindCheck))
		return
	}

	switch {
	case errors.Is(err, core.ErrSessionActive):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, core.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.mu.Lock()
	s.last = sess
	s.mu.Unlock()

	w.Header().Set("Location", "/v1/session")
	writeJSON(w, http.StatusAccepted, newSessionView(sess))
}

// current returns the running session, or the last one started here.
func (s *Server) current() *session.Session {
	if active := s.orch.ActiveSession(); active != nil {
		return active
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.current()
	if sess == nil {
		writeError(w, http.StatusNotFound, errors.New("no session"))
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (s *Server) cancelSession(w http.ResponseWriter, _ *http.Request) {
	if !s.orch.Cancel() {
		writeError(w, http.StatusNotFound, errors.New("no session running"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) setAppVersions(w http.ResponseWriter, r *http.Request) {
	var req appVersionsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.orch.SetAppVersion(req.Datapilot, req.UpdaterApp, req.ST16S)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enable(w http.ResponseWriter, _ *http.Request) {
	s.orch.Enable()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) disable(w http.ResponseWriter, _ *http.Request) {
	s.orch.Disable()
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
