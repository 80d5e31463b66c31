package main

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devatadev/gowvcdm/wv"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	wvpb "github.com/iyear/gowidevine/widevinepb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"
)

type KeyResponseItem struct {
	KeyId string `json:"key_id"`
	Key   string `json:"key"`
	Type  string `json:"type"`
}

type sessionRequest struct {
	SessionId string `json:"session_id" binding:"required,hexadecimal"`
}

type serviceCertificateRequest struct {
	SessionId   string  `json:"session_id" binding:"required,hexadecimal"`
	Certificate *string `json:"certificate"`
}

type challengeRequest struct {
	SessionId string `json:"session_id" binding:"required,hexadecimal"`
	InitData  string `json:"init_data" binding:"required,base64"`
}

type licenseRequest struct {
	SessionId string `json:"session_id" binding:"required,hexadecimal"`
	License   string `json:"license" binding:"required,base64"`
}

type server struct {
	config   *Config
	logger   zerolog.Logger
	metrics  *metrics
	gatherer prometheus.Gatherer
	devices  map[string]string
	cdmOpts  []wv.CDMOption

	mu        sync.Mutex
	openedCdm map[string]*wv.CDM
}

func newServer(config *Config, logger zerolog.Logger, reg *prometheus.Registry, opts ...wv.CDMOption) *server {
	return &server{
		config:    config,
		logger:    logger,
		metrics:   newMetrics(reg),
		gatherer:  reg,
		devices:   config.DevicePaths(),
		cdmOpts:   opts,
		openedCdm: make(map[string]*wv.CDM),
	}
}

func respond(c *gin.Context, status int, message string, data any) {
	body := gin.H{
		"status":  status,
		"message": message,
	}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func abort(c *gin.Context, status int, message string) {
	respond(c, status, message, nil)
	c.Abort()
}

// errorStatus maps CDM errors to a response code.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, wv.ErrSession):
		return http.StatusNotFound
	case errors.Is(err, wv.ErrProtocolOrder), errors.Is(err, wv.ErrFormat),
		errors.Is(err, wv.ErrSignature), errors.Is(err, wv.ErrKeyMaterial):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	// set response headers
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, X-Secret-Key")
		c.Header("X-Request-Via", "GoWVServe")
		c.Next()
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	router.GET("/ping", func(c *gin.Context) {
		respond(c, http.StatusOK, "pong", nil)
	})

	authorized := router.Group("/", s.authenticate)
	authorized.GET("/", s.handleIndex)
	authorized.HEAD("/", s.handleIndex)

	device := authorized.Group("/:device", s.authorizeDevice)
	device.GET("/open", s.handleOpen)
	device.GET("/close/:session_id", s.handleClose)
	device.POST("/set_service_certificate", s.handleSetServiceCertificate)
	device.POST("/get_service_certificate", s.handleGetServiceCertificate)
	device.POST("/get_license_challenge/:license_type", s.handleLicenseChallenge)
	device.POST("/parse_license", s.handleParseLicense)
	device.POST("/get_keys/:key_type", s.handleGetKeys)

	return router
}

func (s *server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header("X-Request-Id", requestID)
		logger := s.logger.With().Str("request_id", requestID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()

		logger.Info().
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// authenticate checks the X-Secret-Key header against the configured users.
func (s *server) authenticate(c *gin.Context) {
	secretKey := c.GetHeader("X-Secret-Key")
	if secretKey == "" {
		abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	user, ok := s.config.Users[secretKey]
	if !ok || user.Name == "" {
		abort(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	c.Set("secret_key", secretKey)
	c.Set("user", user)
	c.Next()
}

func (s *server) authorizeDevice(c *gin.Context) {
	user := c.MustGet("user").(User)
	if !slices.Contains(user.Devices, c.Param("device")) {
		abort(c, http.StatusForbidden, "Device not allowed")
		return
	}
	c.Next()
}

func (s *server) handleIndex(c *gin.Context) {
	respond(c, http.StatusOK, "GoServe is running!", nil)
}

// cdm returns the CDM opened for the caller and device, loading the device
// on first use when create is set.
func (s *server) cdm(c *gin.Context, create bool) (*wv.CDM, bool) {
	deviceName := c.Param("device")
	cdmKey := c.GetString("secret_key") + "/" + deviceName

	s.mu.Lock()
	defer s.mu.Unlock()

	if cdm := s.openedCdm[cdmKey]; cdm != nil {
		return cdm, true
	}
	if !create {
		abort(c, http.StatusBadRequest, "Opened session not found")
		return nil, false
	}

	path, ok := s.devices[deviceName]
	if !ok {
		abort(c, http.StatusNotFound, "Device not found")
		return nil, false
	}

	wvdFile, err := os.ReadFile(path)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("device", deviceName).Msg("read wvd")
		abort(c, http.StatusInternalServerError, "Failed to read WVD file")
		return nil, false
	}

	device, err := wv.NewDevice(wv.FromWVD(bytes.NewReader(wvdFile)))
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("device", deviceName).Msg("load device")
		abort(c, http.StatusInternalServerError, "Failed to create device")
		return nil, false
	}

	opts := append([]wv.CDMOption{
		wv.WithLogger(s.logger.With().Str("device", deviceName).Logger()),
		wv.WithMaxSessions(s.config.Serve.MaxSessions),
	}, s.cdmOpts...)
	cdm := wv.NewCDM(device, opts...)
	s.openedCdm[cdmKey] = cdm
	return cdm, true
}

func (s *server) handleOpen(c *gin.Context) {
	cdm, ok := s.cdm(c, true)
	if !ok {
		return
	}

	sessionID, err := cdm.OpenSession()
	if err != nil {
		abort(c, errorStatus(err), "Failed to open session : "+err.Error())
		return
	}
	s.metrics.sessions.WithLabelValues(c.Param("device")).Inc()

	respond(c, http.StatusOK, "Success", gin.H{
		"session_id":     sessionID,
		"system_id":      cdm.SystemID(),
		"security_level": cdm.Device().SecurityLevel(),
	})
}

func (s *server) handleClose(c *gin.Context) {
	cdm, ok := s.cdm(c, false)
	if !ok {
		return
	}

	if err := cdm.CloseSession(c.Param("session_id")); err != nil {
		abort(c, errorStatus(err), "Failed to close session : "+err.Error())
		return
	}
	s.metrics.sessions.WithLabelValues(c.Param("device")).Dec()

	respond(c, http.StatusOK, "Session closed", nil)
}

func (s *server) handleSetServiceCertificate(c *gin.Context) {
	var req serviceCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid request body : "+err.Error())
		return
	}

	cdm, ok := s.cdm(c, false)
	if !ok {
		return
	}

	// a null or empty certificate removes the cached one
	var certificate []byte
	if req.Certificate != nil && *req.Certificate != "" {
		var err error
		if certificate, err = base64.StdEncoding.DecodeString(*req.Certificate); err != nil {
			abort(c, http.StatusBadRequest, "Failed to decode certificate")
			return
		}
	}

	providerID, err := cdm.SetServiceCertificate(req.SessionId, certificate)
	if err != nil {
		abort(c, errorStatus(err), "Failed to set service certificate : "+err.Error())
		return
	}

	message := "Service certificate set"
	if certificate == nil {
		message = "Service certificate removed"
	}
	respond(c, http.StatusOK, message, gin.H{
		"provider_id": providerID,
	})
}

func (s *server) handleGetServiceCertificate(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid request body : "+err.Error())
		return
	}

	cdm, ok := s.cdm(c, false)
	if !ok {
		return
	}

	cert, err := cdm.GetServiceCertificate(req.SessionId)
	if err != nil {
		abort(c, errorStatus(err), "Failed to get service certificate : "+err.Error())
		return
	}

	var encoded any
	if cert != nil {
		raw, err := proto.Marshal(cert)
		if err != nil {
			abort(c, http.StatusInternalServerError, "Failed to encode service certificate")
			return
		}
		encoded = base64.StdEncoding.EncodeToString(raw)
	}

	respond(c, http.StatusOK, "Success", gin.H{
		"service_certificate": encoded,
	})
}

func (s *server) handleLicenseChallenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid request body : "+err.Error())
		return
	}

	licenseType := strings.ToUpper(c.Param("license_type"))
	mappedLicenseType := wvpb.LicenseType_value[licenseType]
	if mappedLicenseType == 0 {
		abort(c, http.StatusBadRequest, "Failed to map license type")
		return
	}

	psshDecoded, err := base64.StdEncoding.DecodeString(req.InitData)
	if err != nil {
		abort(c, http.StatusBadRequest, "Failed to decode pssh")
		return
	}
	pssh, err := wv.NewPSSH(psshDecoded)
	if err != nil {
		abort(c, http.StatusBadRequest, "Failed to create pssh : "+err.Error())
		return
	}

	cdm, ok := s.cdm(c, false)
	if !ok {
		return
	}

	challenge, err := cdm.GetLicenseChallenge(req.SessionId, pssh, wvpb.LicenseType(mappedLicenseType), s.config.Serve.ForcePrivacyMode)
	if err != nil {
		abort(c, errorStatus(err), "Failed to get license challenge : "+err.Error())
		return
	}
	s.metrics.challenges.WithLabelValues(c.Param("device"), licenseType).Inc()

	respond(c, http.StatusOK, "Success", gin.H{
		"challenge_b64": base64.StdEncoding.EncodeToString(challenge),
	})
}

func (s *server) handleParseLicense(c *gin.Context) {
	var req licenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid request body : "+err.Error())
		return
	}

	licenseDecoded, err := base64.StdEncoding.DecodeString(req.License)
	if err != nil {
		abort(c, http.StatusBadRequest, "Failed to decode license")
		return
	}

	cdm, ok := s.cdm(c, false)
	if !ok {
		return
	}

	keys, err := cdm.ParseLicense(req.SessionId, licenseDecoded)
	if err != nil {
		s.metrics.licenses.WithLabelValues(c.Param("device"), "error").Inc()
		abort(c, errorStatus(err), "Failed to parse license : "+err.Error())
		return
	}
	s.metrics.licenses.WithLabelValues(c.Param("device"), "ok").Inc()

	respond(c, http.StatusOK, "Success", gin.H{
		"keys": len(keys),
	})
}

func (s *server) handleGetKeys(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "Invalid request body : "+err.Error())
		return
	}

	var keyType wv.KeyType
	if name := strings.ToUpper(c.Param("key_type")); name != "ALL" {
		mappedKeyType := wvpb.License_KeyContainer_KeyType_value[name]
		if mappedKeyType == 0 {
			abort(c, http.StatusBadRequest, "Failed to map key type")
			return
		}
		keyType = wv.KeyType(mappedKeyType)
	}

	cdm, ok := s.cdm(c, false)
	if !ok {
		return
	}

	keys, err := cdm.GetKeys(req.SessionId, keyType)
	if err != nil {
		abort(c, errorStatus(err), "Failed to get keys : "+err.Error())
		return
	}

	mappedKeyResponses := make([]*KeyResponseItem, 0, len(keys))
	for _, key := range keys {
		mappedKeyResponses = append(mappedKeyResponses, &KeyResponseItem{
			KeyId: key.KeyIdHex(),
			Key:   key.KeyHex(),
			Type:  key.Type.String(),
		})
	}

	respond(c, http.StatusOK, "Success", gin.H{
		"keys": mappedKeyResponses,
	})
}
