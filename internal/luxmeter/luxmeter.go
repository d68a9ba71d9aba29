package luxmeter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/lux-meter/internal/attribute"
	"github.com/ztkent/lux-meter/internal/illuminance"
	"github.com/ztkent/lux-meter/veml7700"
)

type LuxMeter struct {
	*veml7700.VEML7700
	Sensor         *illuminance.Sensor
	Store          *attribute.Store
	Endpoint       uint16
	LuxResultsChan chan LuxResults
	ResultsDB      *sql.DB
	DBPath         string
	Pid            int
	RecordInterval time.Duration
	MaxJobDuration time.Duration
	Location       *time.Location
	Logger         logrus.FieldLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	jobID   string
	running bool
	done    chan struct{}
}

type LuxResults struct {
	veml7700.Reading
	MeasuredValue *uint16
	JobID         string
	Err           error
}

type Conditions struct {
	JobID                 string  `json:"jobID"`
	Lux                   float64 `json:"lux"`
	Raw                   int     `json:"raw"`
	Gain                  string  `json:"gain"`
	IntegrationTime       string  `json:"integrationTime"`
	Corrected             bool    `json:"corrected"`
	MeasuredValue         *int64  `json:"measuredValue"`
	CreatedAt             string  `json:"createdAt"`
	DateRange             string  `json:"dateRange,omitempty"`
	RecordedHoursInRange  float64 `json:"recordedHoursInRange,omitempty"`
	FullSunlightInRange   float64 `json:"fullSunlightInRange,omitempty"`
	LightConditionInRange string  `json:"lightConditionInRange,omitempty"`
	AverageLuxInRange     float64 `json:"averageLuxInRange,omitempty"`
}

const (
	MAX_JOB_DURATION = 8 * time.Hour
	RECORD_INTERVAL  = 30 * time.Second
	DB_PATH          = "luxmeter.db"
)

var (
	ErrNotConnected   = errors.New("the sensor is not connected")
	ErrAlreadyRunning = errors.New("the sensor is already started")
	ErrNotRunning     = errors.New("the sensor is already stopped")
)

func (m *LuxMeter) log() logrus.FieldLogger {
	if m.Logger == nil {
		return logrus.StandardLogger()
	}
	return m.Logger
}

func (m *LuxMeter) interval() time.Duration {
	if m.RecordInterval <= 0 {
		return RECORD_INTERVAL
	}
	return m.RecordInterval
}

func (m *LuxMeter) maxJobDuration() time.Duration {
	if m.MaxJobDuration <= 0 {
		return MAX_JOB_DURATION
	}
	return m.MaxJobDuration
}

// Running reports whether a sampling job is active, and its ID.
func (m *LuxMeter) Running() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running, m.jobID
}

// StartJob powers the sensor on and samples it every RecordInterval until StopJob,
// the parent context ends, or MaxJobDuration passes.
func (m *LuxMeter) StartJob(parent context.Context) (string, error) {
	if m.VEML7700 == nil {
		return "", ErrNotConnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return "", ErrAlreadyRunning
	}
	if err := m.PowerOn(); err != nil {
		return "", fmt.Errorf("power on: %w", err)
	}

	ctx, cancel := context.WithTimeout(parent, m.maxJobDuration())
	m.cancel = cancel
	m.jobID = uuid.New().String()
	m.running = true
	m.done = make(chan struct{})
	go m.runJob(ctx, m.jobID, m.done)
	m.log().WithField("job_id", m.jobID).Info("It's going to be a bright day!")
	return m.jobID, nil
}

// StopJob cancels the active job and waits for it to shut the sensor down.
func (m *LuxMeter) StopJob() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (m *LuxMeter) runJob(ctx context.Context, jobID string, done chan struct{}) {
	l := m.log().WithField("job_id", jobID)
	defer func() {
		if err := m.Shutdown(); err != nil {
			l.WithError(err).Warn("Failed to shut the sensor down")
		}
		m.mu.Lock()
		m.running = false
		m.cancel()
		m.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()
	for {
		result := m.measure(ctx, jobID, l)
		if ctx.Err() != nil {
			l.Info("Job Cancelled, stopping sensor")
			return
		}
		if m.LuxResultsChan != nil {
			select {
			case m.LuxResultsChan <- result:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			l.Info("Job Cancelled, stopping sensor")
			return
		case <-ticker.C:
		}
	}
}

func (m *LuxMeter) measure(ctx context.Context, jobID string, l logrus.FieldLogger) LuxResults {
	reading, err := m.ReadMeasurement(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.WithError(err).Error("The sensor failed to read a measurement")
		}
		return LuxResults{JobID: jobID, Err: err}
	}
	result := LuxResults{Reading: reading, JobID: jobID}
	if m.Sensor == nil {
		return result
	}
	if reading.Raw == 0 {
		// nothing at full sensitivity, below what the cluster can represent
		err = m.Sensor.UpdateBelowRange()
	} else {
		err = m.Sensor.UpdateMeasuredValue(reading.Lux)
	}
	if err != nil {
		if errors.Is(err, illuminance.ErrLuxOutOfRange) {
			l.WithField("lux", reading.Lux).Debug("Reading outside the measurable range, not published")
		} else {
			l.WithError(err).Error("Failed to publish measured value")
		}
		return result
	}
	if cur, _, ok := m.Sensor.Measured(); ok {
		result.MeasuredValue = &cur
	}
	return result
}

// Read from LuxResultsChan, write the results to sqlite
func (m *LuxMeter) MonitorAndRecordResults(ctx context.Context) {
	m.log().Info("Monitoring for new lux readings...")
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-m.LuxResultsChan:
			if result.Err != nil {
				continue
			}
			m.log().WithField("job_id", result.JobID).Debugf("Lux: %.5f", result.Lux)
			if err := m.recordResult(result); err != nil {
				m.log().WithError(err).Error("Failed to record reading")
			}
		}
	}
}

func (m *LuxMeter) recordResult(result LuxResults) error {
	if m.ResultsDB == nil {
		return nil
	}
	var measured sql.NullInt64
	if result.MeasuredValue != nil {
		measured = sql.NullInt64{Int64: int64(*result.MeasuredValue), Valid: true}
	}
	_, err := m.ResultsDB.Exec(
		"INSERT INTO readings (job_id, lux, raw, gain, integration_time, corrected, measured_value) VALUES (?, ?, ?, ?, ?, ?, ?)",
		result.JobID,
		result.Lux,
		result.Raw,
		result.Gain.String(),
		result.IntegrationTime.String(),
		result.Corrected,
		measured,
	)
	return err
}

// Start the sensor, and collect data in a loop
func (m *LuxMeter) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := m.StartJob(context.Background())
		switch {
		case errors.Is(err, ErrNotConnected), errors.Is(err, ErrAlreadyRunning):
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
		case err != nil:
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
		default:
			ServeResponse(w, r, "Lux reading started: "+jobID, http.StatusOK)
		}
	}
}

// Stop the sensor, and cancel the job context
func (m *LuxMeter) Stop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.VEML7700 == nil {
			ServeResponse(w, r, ErrNotConnected.Error(), http.StatusBadRequest)
			return
		}
		if err := m.StopJob(); err != nil {
			ServeResponse(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		ServeResponse(w, r, "Lux reading stopped", http.StatusOK)
	}
}

// Status of the sensor
func (m *LuxMeter) ServeSensorStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		running, jobID := m.Running()
		ServeJSON(w, http.StatusOK, struct {
			Connected bool   `json:"connected"`
			Enabled   bool   `json:"enabled"`
			JobID     string `json:"jobID,omitempty"`
			Pid       int    `json:"pid"`
		}{m.VEML7700 != nil, running, jobID, m.Pid})
	}
}

// Serve the decoded register cache
func (m *LuxMeter) ServeRegisters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.VEML7700 == nil {
			ServeResponse(w, r, ErrNotConnected.Error(), http.StatusBadRequest)
			return
		}
		settings, err := m.Settings()
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeJSON(w, http.StatusOK, struct {
			veml7700.Settings
			GainName            string `json:"gainName"`
			IntegrationTimeName string `json:"integrationTimeName"`
		}{settings, settings.Gain.String(), settings.IntegrationTime.String()})
	}
}

// Serve every attribute of the illuminance measurement cluster
func (m *LuxMeter) ServeAttributes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := m.Store.Cluster(m.Endpoint, attribute.ClusterIlluminanceMeasurement)
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusNotFound)
			return
		}
		ServeJSON(w, http.StatusOK, m.Store.Snapshot(c))
	}
}

// Write MeasuredValue as an external client would
func (m *LuxMeter) SetMeasuredValue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value *uint16 `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			ServeResponse(w, r, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
		a, err := m.Store.Lookup(m.Endpoint, attribute.ClusterIlluminanceMeasurement, attribute.AttrMeasuredValue)
		if err != nil {
			ServeResponse(w, r, err.Error(), http.StatusNotFound)
			return
		}
		v := attribute.Null()
		if body.Value != nil {
			v = attribute.Uint16(*body.Value)
		}
		if err := m.Store.SetValue(a, v, uuid.New()); err != nil {
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeResponse(w, r, "MeasuredValue set to "+v.String(), http.StatusOK)
	}
}

// Serve data about the most recent entry saved to the db
func (m *LuxMeter) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conditions, err := m.getCurrentConditions()
		if errors.Is(err, sql.ErrNoRows) {
			ServeResponse(w, r, "No readings recorded yet", http.StatusNotFound)
			return
		} else if err != nil {
			m.log().WithError(err).Error("Failed to load current conditions")
			ServeResponse(w, r, err.Error(), http.StatusInternalServerError)
			return
		}
		ServeJSON(w, http.StatusOK, conditions)
	}
}

// Return the most recent entry saved to the db
func (m *LuxMeter) getCurrentConditions() (Conditions, error) {
	if m.ResultsDB == nil {
		return Conditions{}, sql.ErrNoRows
	}
	conditions := Conditions{}
	var measured sql.NullInt64
	row := m.ResultsDB.QueryRow("SELECT job_id, lux, raw, gain, integration_time, corrected, measured_value, created_at FROM readings ORDER BY id DESC LIMIT 1")
	err := row.Scan(&conditions.JobID, &conditions.Lux, &conditions.Raw, &conditions.Gain,
		&conditions.IntegrationTime, &conditions.Corrected, &measured, &conditions.CreatedAt)
	if err != nil {
		return Conditions{}, err
	}
	if measured.Valid {
		conditions.MeasuredValue = &measured.Int64
	}
	return conditions, nil
}

// Reply with a JSON message
func ServeResponse(w http.ResponseWriter, r *http.Request, message string, status int) {
	ServeJSON(w, status, map[string]string{"message": message})
}

func ServeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
