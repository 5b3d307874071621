package genserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ConRes/conres.io-sub001/pkg/engine/colorspace"
	"github.com/ConRes/conres.io-sub001/pkg/engine/run"
)

// Routes registers the Scheduler API surface (§6): submit a job, poll it,
// and fetch its finished PDF.
func (s *Server) Routes() error {
	s.server.POST("/generate", s.Generate)
	s.server.GET("/jobs/:id", s.JobStatus)
	s.server.GET("/jobs/:id/result", s.JobResult)
	return nil
}

// generateRequestOptions is the JSON shape of the "options" multipart field,
// using the same string vocabulary as engineconfig's YAML so a caller can
// reuse the same values across the CLI, the config file, and the HTTP API.
type generateRequestOptions struct {
	Version                string            `json:"version"`
	UserMetadata           map[string]string `json:"userMetadata"`
	Debugging              bool              `json:"debugging"`
	OutputBitsPerComponent int               `json:"outputBitsPerComponent"`
	UseWorkers             bool              `json:"useWorkers"`
	WorkerCount            int               `json:"workerCount"`
	DestinationFamily      string            `json:"destinationFamily"`
	DestinationDescription string            `json:"destinationDescription"`
	Intent                 string            `json:"intent"`
	BPCEnabled             bool              `json:"bpcEnabled"`
	PageFilter             []int             `json:"pageFilter"`
}

func (o generateRequestOptions) toRunOptions() (run.Options, error) {
	family, err := parseFamily(o.DestinationFamily)
	if err != nil {
		return run.Options{}, err
	}
	intent, err := parseIntent(o.Intent)
	if err != nil {
		return run.Options{}, err
	}
	return run.Options{
		Version:                o.Version,
		UserMetadata:           o.UserMetadata,
		Debugging:              o.Debugging,
		OutputBitsPerComponent: o.OutputBitsPerComponent,
		UseWorkers:             o.UseWorkers,
		WorkerCount:            o.WorkerCount,
		DestinationFamily:      family,
		DestinationDescription: o.DestinationDescription,
		Intent:                 intent,
		BPCEnabled:             o.BPCEnabled,
		PageFilter:             o.PageFilter,
	}, nil
}

func parseFamily(s string) (colorspace.Family, error) {
	switch s {
	case "", "DeviceRGB":
		return colorspace.FamilyDeviceRGB, nil
	case "DeviceCMYK":
		return colorspace.FamilyDeviceCMYK, nil
	case "DeviceGray":
		return colorspace.FamilyDeviceGray, nil
	case "Lab":
		return colorspace.FamilyLab, nil
	case "ICCBased":
		return colorspace.FamilyICCBased, nil
	default:
		return 0, echo.NewHTTPError(http.StatusBadRequest, "unknown destinationFamily: "+s)
	}
}

func parseIntent(s string) (colorspace.RenderingIntent, error) {
	switch s {
	case "", "relative_colorimetric":
		return colorspace.IntentRelativeColorimetric, nil
	case "perceptual":
		return colorspace.IntentPerceptual, nil
	case "saturation":
		return colorspace.IntentSaturation, nil
	case "absolute_colorimetric":
		return colorspace.IntentAbsoluteColorimetric, nil
	case "preserve_k_only_relative_gcr":
		return colorspace.IntentPreserveKOnlyRelativeGCR, nil
	default:
		return 0, echo.NewHTTPError(http.StatusBadRequest, "unknown intent: "+s)
	}
}

// Generate implements POST /generate: a multipart request carrying the
// source PDF ("source"), the manifest JSON ("manifest"), and an optional
// "options" JSON field. It starts the run in the background and replies
// with a job id to poll, matching §6's asynchronous generate/on_progress
// contract rather than blocking the HTTP request for the run's duration.
func (s *Server) Generate(c echo.Context) error {
	sourceHdr, err := c.FormFile("source")
	if err != nil {
		return s.ServerError(c, http.StatusBadRequest, err)
	}
	manifestHdr, err := c.FormFile("manifest")
	if err != nil {
		return s.ServerError(c, http.StatusBadRequest, err)
	}

	sourceFile, err := sourceHdr.Open()
	if err != nil {
		return s.ServerError(c, http.StatusBadRequest, err)
	}
	defer sourceFile.Close()
	sourceBytes, err := io.ReadAll(sourceFile)
	if err != nil {
		return s.ServerError(c, http.StatusBadRequest, err)
	}

	manifestFile, err := manifestHdr.Open()
	if err != nil {
		return s.ServerError(c, http.StatusBadRequest, err)
	}
	defer manifestFile.Close()
	manifestBytes, err := io.ReadAll(manifestFile)
	if err != nil {
		return s.ServerError(c, http.StatusBadRequest, err)
	}

	var reqOpts generateRequestOptions
	if raw := c.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &reqOpts); err != nil {
			return s.ServerError(c, http.StatusBadRequest, err)
		}
	}
	opts, err := reqOpts.toRunOptions()
	if err != nil {
		return err
	}

	if profileHdr, ferr := c.FormFile("destinationProfile"); ferr == nil {
		profileFile, err := profileHdr.Open()
		if err != nil {
			return s.ServerError(c, http.StatusBadRequest, err)
		}
		defer profileFile.Close()
		opts.ICCProfileBytes, err = io.ReadAll(profileFile)
		if err != nil {
			return s.ServerError(c, http.StatusBadRequest, err)
		}
	}

	j := s.jobs.create()
	s.log.Info("genserver: job accepted", zapField("job_id", j.id))

	go s.runJob(j, sourceBytes, manifestBytes, opts)

	return c.JSON(http.StatusAccepted, j.snapshot())
}

func (s *Server) runJob(j *job, sourceBytes, manifestBytes []byte, opts run.Options) {
	j.setRunning()
	res, err := run.Generate(bytes.NewReader(sourceBytes), manifestBytes, opts, j.setProgress, s.log)
	if err != nil {
		j.setFailed(err)
		return
	}
	j.setDone(res)
}

// JobStatus implements GET /jobs/:id: the job's current status and most
// recent on_progress snapshot.
func (s *Server) JobStatus(c echo.Context) error {
	j, ok := s.jobs.get(c.Param("id"))
	if !ok {
		return s.ServerError(c, http.StatusNotFound, errJobNotFound(c.Param("id")))
	}
	return c.JSON(http.StatusOK, j.snapshot())
}

// JobResult implements GET /jobs/:id/result: the finished PDF bytes, once
// the job's status is "done".
func (s *Server) JobResult(c echo.Context) error {
	j, ok := s.jobs.get(c.Param("id"))
	if !ok {
		return s.ServerError(c, http.StatusNotFound, errJobNotFound(c.Param("id")))
	}
	v := j.snapshot()
	if v.Status != string(jobDone) {
		return s.ServerError(c, http.StatusConflict, errJobNotDone(j.id, v.Status))
	}
	j.mu.Lock()
	pdfBytes := j.result.PDFBytes
	j.mu.Unlock()
	return c.Blob(http.StatusOK, "application/pdf", pdfBytes)
}
