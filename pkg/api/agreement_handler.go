package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mimir-aip/mimir-curation/pkg/agreement"
	"github.com/mimir-aip/mimir-curation/pkg/cas"
	"github.com/mimir-aip/mimir-curation/pkg/casdiff"
	"github.com/mimir-aip/mimir-curation/pkg/models"
)

const maxRequestBytes = 32 << 20

// ReportStore persists and lists agreement reports
type ReportStore interface {
	SaveAgreementReport(report *models.AgreementReport) error
	GetAgreementReport(id string) (*models.AgreementReport, error)
	ListAgreementReports() ([]*models.AgreementReport, error)
	ListAgreementReportsByProject(projectID string) ([]*models.AgreementReport, error)
}

// AgreementHandler handles agreement HTTP requests
type AgreementHandler struct {
	store   ReportStore
	options []agreement.ServiceOption
}

// NewAgreementHandler creates a new agreement handler. The options configure the agreement
// service created for every request.
func NewAgreementHandler(store ReportStore, options ...agreement.ServiceOption) *AgreementHandler {
	return &AgreementHandler{
		store:   store,
		options: append(options, agreement.WithStore(store)),
	}
}

// Register adds the agreement routes to a server
func (h *AgreementHandler) Register(s *Server) {
	s.RegisterHandler("/api/agreement", h.HandleAgreement)
	s.RegisterHandler("/api/agreement/reports", h.HandleReports)
	s.RegisterHandler("/api/agreement/reports/", h.HandleReport)
}

// HandleAgreement computes an agreement report (POST)
func (h *AgreementHandler) HandleAgreement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req models.AgreementReportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Layer == "" || req.Feature == "" {
		writeErrorResponse(w, http.StatusBadRequest, "layer and feature are required")
		return
	}
	if len(req.Documents) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "at least one document is required")
		return
	}

	casByUser := make(map[string]*cas.CAS, len(req.Documents))
	for user, raw := range req.Documents {
		if string(raw) == "null" {
			casByUser[user] = nil
			continue
		}
		c, err := cas.Unmarshal(raw)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid document of %s: %v", user, err))
			return
		}
		casByUser[user] = c
	}

	registry, err := casdiff.NewRegistryFromDefinitions(layerDefinition(req))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	service := agreement.NewService(registry, h.options...)
	reports, err := service.Report(r.Context(), casByUser, agreement.ReportRequest{
		ProjectID: req.ProjectID,
		Layer:     req.Layer,
		Feature:   req.Feature,
		Measure:   req.Measure,
		Pairwise:  req.Pairwise,
		Tagset:    req.Tagset,
	})
	switch {
	case errors.Is(err, agreement.ErrUnknownMeasure) || errors.Is(err, agreement.ErrRaterCount):
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to compute agreement: %v", err))
		return
	}

	writeJSONResponse(w, http.StatusCreated, reports[0])
}

// layerDefinition describes the single layer an agreement request is about
func layerDefinition(req models.AgreementReportRequest) casdiff.LayerDefinition {
	d := casdiff.LayerDefinition{
		Kind:   req.Kind,
		Type:   req.Layer,
		Source: req.Source,
		Target: req.Target,
	}
	if req.LinkMode != "" {
		d.Links = []casdiff.LinkDefinition{{Name: req.Feature, Mode: req.LinkMode}}
	} else {
		d.LabelFeatures = []string{req.Feature}
	}
	return d
}

// HandleReports lists stored agreement reports (GET), optionally filtered by project_id
func (h *AgreementHandler) HandleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	var reports []*models.AgreementReport
	var err error
	if projectID := r.URL.Query().Get("project_id"); projectID != "" {
		reports, err = h.store.ListAgreementReportsByProject(projectID)
	} else {
		reports, err = h.store.ListAgreementReports()
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list reports: %v", err))
		return
	}

	writeJSONResponse(w, http.StatusOK, reports)
}

// HandleReport returns one stored agreement report (GET)
func (h *AgreementHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	reportID := strings.TrimPrefix(r.URL.Path, "/api/agreement/reports/")
	report, err := h.store.GetAgreementReport(reportID)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSONResponse(w, http.StatusOK, report)
}
