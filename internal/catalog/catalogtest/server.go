// Package catalogtest provides an in-memory catalog served over HTTP for tests.
package catalogtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spachava753/geosync/internal/catalog"
)

const legacyParent = "projects/earthengine-legacy"

var validAssetID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Import records one accepted ingestion request.
type Import struct {
	Name      string
	RequestID string
	Overwrite bool
	Image     *catalog.ImageManifest
	Table     *catalog.TableManifest
}

// Upload records one file received on a signed upload URL.
type Upload struct {
	Slot     string
	Field    string
	Filename string
	Size     int64
}

// Server is a fake catalog plus staging endpoint.
type Server struct {
	*httptest.Server

	// Token, when set, must be presented as a bearer token on every request.
	Token string
	// CompleteImmediately makes ingestions finish synchronously and create the asset.
	CompleteImmediately bool
	// PageSize bounds listing pages; zero returns everything at once.
	PageSize int
	// SlotDelay holds each upload-URL request open to expose concurrent fetches.
	SlotDelay time.Duration

	project string

	mu          sync.Mutex
	assets      map[string]catalog.AssetType
	aliases     map[string]string
	slashOnly   map[string]bool
	forbidden   map[string]bool
	rejected    map[string]string
	legacyRoots []string
	ops         []catalog.Operation
	imports     []Import
	uploads     []Upload
	slots       map[string]bool
	nextID      int
	slotActive  int
	slotMax     int
}

// New starts a fake catalog for project and closes it when the test ends.
func New(t testing.TB, project string) *Server {
	s := &Server{
		project:   project,
		assets:    make(map[string]catalog.AssetType),
		aliases:   make(map[string]string),
		slashOnly: make(map[string]bool),
		forbidden: make(map[string]bool),
		rejected:  make(map[string]string),
		slots:     make(map[string]bool),
	}

	r := chi.NewRouter()
	r.Use(s.auth)
	r.Get("/v1/*", s.handleGet)
	r.Post("/v1/*", s.handlePost)
	r.Get("/assets/upload/geturl", s.handleGetURL)
	r.Post("/upload/{slot}", s.handleUpload)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// AddRoot registers a project root such as "projects/p/assets". Like the real catalog,
// it only resolves when looked up with a trailing slash.
func (s *Server) AddRoot(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = strings.TrimSuffix(name, "/")
	s.assets[name] = catalog.TypeFolder
	s.slashOnly[name] = true
}

// AddLegacyRoot registers a legacy root id such as "users/alice".
func (s *Server) AddLegacyRoot(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	canonical := legacyParent + "/assets/" + id
	s.assets[canonical] = catalog.TypeFolder
	s.aliases[id] = canonical
	s.legacyRoots = append(s.legacyRoots, id)
	return canonical
}

func (s *Server) AddAsset(name string, typ catalog.AssetType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[name] = typ
}

// Forbid makes lookups of name answer 403.
func (s *Server) Forbid(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forbidden[strings.TrimSuffix(name, "/")] = true
}

// Reject makes ingestion of name fail with a 400 carrying message. An empty message
// lifts the rejection.
func (s *Server) Reject(name, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message == "" {
		delete(s.rejected, name)
		return
	}
	s.rejected[name] = message
}

// AddIngestion registers an active ingestion targeting name.
func (s *Server) AddIngestion(name string) catalog.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addOperationLocked(name, catalog.StateRunning)
}

func (s *Server) AddOperation(op catalog.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

func (s *Server) HasAsset(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assets[name]
	return ok
}

func (s *Server) AssetType(name string) catalog.AssetType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assets[name]
}

func (s *Server) Imports() []Import {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Import(nil), s.imports...)
}

func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

func (s *Server) Operations() []catalog.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.Operation(nil), s.ops...)
}

// MaxConcurrentSlotFetches is the highest number of upload-URL requests seen in flight at once.
func (s *Server) MaxConcurrentSlotFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotMax
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusUnauthorized, "request had invalid authentication credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rest := chi.URLParam(r, "*")
	opsPath := "projects/" + s.project + "/operations"

	switch {
	case strings.HasSuffix(rest, ":listAssets"):
		s.listAssets(w, r, strings.TrimSuffix(rest, ":listAssets"))
	case rest == opsPath:
		s.listOperations(w, r)
	case strings.HasPrefix(rest, opsPath+"/"):
		s.getOperation(w, rest)
	default:
		s.getAsset(w, rest)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	rest := chi.URLParam(r, "*")

	switch {
	case strings.HasSuffix(rest, ":cancel"):
		s.cancel(w, strings.TrimSuffix(rest, ":cancel"))
	case strings.HasSuffix(rest, "/image:import"), strings.HasSuffix(rest, "/table:import"):
		s.ingest(w, r, strings.HasSuffix(rest, "/table:import"))
	case strings.HasSuffix(rest, "/assets"):
		s.createAsset(w, r, strings.TrimSuffix(rest, "/assets"))
	default:
		writeError(w, http.StatusNotFound, "no such method")
	}
}

// resolveLocked maps a requested name to a stored canonical name and reports its status code.
func (s *Server) resolveLocked(name string) (string, int) {
	trimmed := strings.TrimSuffix(name, "/")
	if s.forbidden[trimmed] {
		return "", http.StatusForbidden
	}
	if canonical, ok := s.aliases[trimmed]; ok {
		trimmed = canonical
	}
	if _, ok := s.assets[trimmed]; !ok {
		return "", http.StatusNotFound
	}
	if s.slashOnly[trimmed] && !strings.HasSuffix(name, "/") {
		return "", http.StatusNotFound
	}
	return trimmed, http.StatusOK
}

func (s *Server) getAsset(w http.ResponseWriter, name string) {
	s.mu.Lock()
	canonical, status := s.resolveLocked(name)
	typ := s.assets[canonical]
	s.mu.Unlock()

	if status != http.StatusOK {
		writeError(w, status, fmt.Sprintf("asset %q not found or access denied", name))
		return
	}
	writeJSON(w, http.StatusOK, catalog.Asset{Name: canonical, ID: idOf(canonical), Type: typ})
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request, parent string) {
	s.mu.Lock()
	var assets []catalog.Asset
	if parent == legacyParent {
		for _, id := range s.legacyRoots {
			assets = append(assets, catalog.Asset{Name: s.aliases[id], ID: id, Type: catalog.TypeFolder})
		}
	} else {
		canonical, status := s.resolveLocked(parent + "/")
		if status != http.StatusOK {
			s.mu.Unlock()
			writeError(w, status, fmt.Sprintf("asset %q not found or access denied", parent))
			return
		}
		for name, typ := range s.assets {
			if path.Dir(name) == canonical {
				assets = append(assets, catalog.Asset{Name: name, ID: idOf(name), Type: typ})
			}
		}
		sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })
	}
	s.mu.Unlock()

	page, next := s.paginate(len(assets), r.URL.Query().Get("pageToken"))
	writeJSON(w, http.StatusOK, map[string]any{
		"assets":        assets[page[0]:page[1]],
		"nextPageToken": next,
	})
}

func (s *Server) listOperations(w http.ResponseWriter, r *http.Request) {
	ops := s.Operations()
	page, next := s.paginate(len(ops), r.URL.Query().Get("pageToken"))
	writeJSON(w, http.StatusOK, map[string]any{
		"operations":    ops[page[0]:page[1]],
		"nextPageToken": next,
	})
}

func (s *Server) paginate(total int, token string) ([2]int, string) {
	start, _ := strconv.Atoi(token)
	start = min(max(start, 0), total)
	if s.PageSize <= 0 {
		return [2]int{start, total}, ""
	}
	end := min(start+s.PageSize, total)
	next := ""
	if end < total {
		next = strconv.Itoa(end)
	}
	return [2]int{start, end}, next
}

func (s *Server) getOperation(w http.ResponseWriter, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.ops {
		if op.Name == name {
			writeJSON(w, http.StatusOK, op)
			return
		}
	}
	writeError(w, http.StatusNotFound, "operation not found")
}

func (s *Server) cancel(w http.ResponseWriter, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ops {
		if s.ops[i].Name == name {
			s.ops[i].Done = true
			s.ops[i].Metadata.State = catalog.StateCancelled
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
	}
	writeError(w, http.StatusNotFound, "operation not found")
}

func (s *Server) createAsset(w http.ResponseWriter, r *http.Request, parent string) {
	assetID := r.URL.Query().Get("assetId")
	var body struct {
		Type catalog.AssetType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	name := parent + "/assets/" + assetID

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forbidden[name] || s.forbidden[path.Dir(name)] {
		writeError(w, http.StatusForbidden, "caller lacks write access")
		return
	}
	if _, ok := s.assets[name]; ok {
		writeError(w, http.StatusConflict, fmt.Sprintf("asset %q already exists", name))
		return
	}
	if _, ok := s.assets[path.Dir(name)]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("parent of %q does not exist", name))
		return
	}
	s.assets[name] = body.Type
	writeJSON(w, http.StatusOK, catalog.Asset{Name: name, ID: idOf(name), Type: body.Type})
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request, table bool) {
	var body struct {
		ImageManifest *catalog.ImageManifest `json:"imageManifest"`
		TableManifest *catalog.TableManifest `json:"tableManifest"`
		RequestID     string                 `json:"requestId"`
		Overwrite     bool                   `json:"overwrite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	rec := Import{RequestID: body.RequestID, Overwrite: body.Overwrite, Image: body.ImageManifest, Table: body.TableManifest}
	typ := catalog.TypeImage
	opType := "INGEST_IMAGE"
	switch {
	case table && body.TableManifest != nil:
		rec.Name = body.TableManifest.Name
		typ = catalog.TypeTable
		opType = "INGEST_TABLE"
	case !table && body.ImageManifest != nil:
		rec.Name = body.ImageManifest.Name
	default:
		writeError(w, http.StatusBadRequest, "manifest missing")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.rejected[rec.Name]; ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if !validAssetID.MatchString(path.Base(rec.Name)) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid asset id %q", path.Base(rec.Name)))
		return
	}
	if _, ok := s.assets[path.Dir(rec.Name)]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("parent of %q does not exist", rec.Name))
		return
	}
	if _, exists := s.assets[rec.Name]; exists && !body.Overwrite {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot overwrite asset %q", rec.Name))
		return
	}
	s.imports = append(s.imports, rec)

	state := catalog.StateRunning
	if s.CompleteImmediately {
		state = catalog.StateSucceeded
		s.assets[rec.Name] = typ
	}
	op := s.addOperationLocked(rec.Name, state)
	s.ops[len(s.ops)-1].Metadata.Type = opType
	op.Metadata.Type = opType
	writeJSON(w, http.StatusOK, op)
}

func (s *Server) addOperationLocked(target, state string) catalog.Operation {
	s.nextID++
	op := catalog.Operation{
		Name: fmt.Sprintf("projects/%s/operations/OP%04d", s.project, s.nextID),
		Done: state == catalog.StateSucceeded || state == catalog.StateFailed || state == catalog.StateCancelled,
		Metadata: catalog.OperationMetadata{
			Type:        "INGEST_IMAGE",
			State:       state,
			Description: fmt.Sprintf("Asset ingestion: %q", target),
		},
	}
	s.ops = append(s.ops, op)
	return op
}

func (s *Server) handleGetURL(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.slotActive++
	s.slotMax = max(s.slotMax, s.slotActive)
	s.nextID++
	slot := fmt.Sprintf("slot%04d", s.nextID)
	s.slots[slot] = true
	s.mu.Unlock()

	if s.SlotDelay > 0 {
		time.Sleep(s.SlotDelay)
	}

	s.mu.Lock()
	s.slotActive--
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"url": s.URL + "/upload/" + slot})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	slot := chi.URLParam(r, "slot")

	s.mu.Lock()
	unused := s.slots[slot]
	delete(s.slots, slot)
	s.mu.Unlock()
	if !unused {
		writeError(w, http.StatusGone, "upload url already used or unknown")
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	part, err := reader.NextPart()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := io.Copy(io.Discard, part)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := Upload{Slot: slot, Field: part.FormName(), Filename: part.FileName(), Size: n}
	s.mu.Lock()
	s.uploads = append(s.uploads, rec)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, []string{fmt.Sprintf("gs://staging/%s/%s", slot, rec.Filename)})
}

func idOf(canonical string) string {
	if rest, ok := strings.CutPrefix(canonical, legacyParent+"/assets/"); ok {
		return rest
	}
	return canonical
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": status, "message": message},
	})
}
