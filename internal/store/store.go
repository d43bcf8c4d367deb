package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"roadwatch/internal/incident"
)

// ErrStatusConflict is returned by CommitResults when the incident is no
// longer in the processing state (deleted mid-run, or already terminal).
// Nothing is written in that case.
var ErrStatusConflict = errors.New("incident status conflict")

// DB handles SQLite persistence for incidents and their derived records
type DB struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys so incident deletion cascades
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *DB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			occurred_at DATETIME NOT NULL,
			speed REAL,
			heading REAL,
			description TEXT,
			video_path TEXT NOT NULL,
			video_size INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS detected_vehicles (
			id TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL,
			vehicle_class TEXT NOT NULL,
			make TEXT,
			model TEXT,
			color TEXT,
			confidence REAL NOT NULL,
			bounding_box TEXT NOT NULL,
			frame_timestamp REAL NOT NULL,
			FOREIGN KEY (incident_id) REFERENCES incidents(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS license_plates (
			id TEXT PRIMARY KEY,
			incident_id TEXT NOT NULL,
			detection_id TEXT,
			plate_text TEXT NOT NULL,
			confidence REAL NOT NULL,
			region TEXT,
			bounding_box TEXT NOT NULL,
			frame_timestamp REAL NOT NULL,
			FOREIGN KEY (incident_id) REFERENCES incidents(id) ON DELETE CASCADE,
			FOREIGN KEY (detection_id) REFERENCES detected_vehicles(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_incident ON detected_vehicles(incident_id, frame_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_plates_incident ON license_plates(incident_id, frame_timestamp)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateIncident inserts a new incident record
func (d *DB) CreateIncident(ctx context.Context, inc *incident.Incident) error {
	if inc.Status == "" {
		inc.Status = incident.StatusPending
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO incidents
		(id, user_id, type, latitude, longitude, occurred_at, speed, heading,
		 description, video_path, video_size, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query, inc.ID, inc.UserID, string(inc.Type),
		inc.Latitude, inc.Longitude, inc.OccurredAt, inc.Speed, inc.Heading,
		inc.Description, inc.VideoPath, inc.VideoSize, string(inc.Status), inc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetIncident retrieves an incident by ID. Returns nil, nil when absent.
func (d *DB) GetIncident(ctx context.Context, id string) (*incident.Incident, error) {
	query := `SELECT id, user_id, type, latitude, longitude, occurred_at, speed,
		heading, description, video_path, video_size, status, created_at
		FROM incidents WHERE id = ?`

	var inc incident.Incident
	var typ, status string
	err := d.db.QueryRowContext(ctx, query, id).Scan(&inc.ID, &inc.UserID, &typ,
		&inc.Latitude, &inc.Longitude, &inc.OccurredAt, &inc.Speed, &inc.Heading,
		&inc.Description, &inc.VideoPath, &inc.VideoSize, &status, &inc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	inc.Type = incident.Type(typ)
	inc.Status = incident.Status(status)
	return &inc, nil
}

// SetStatus atomically moves an incident from expected to next.
// Returns false (and no error) when the current status does not match,
// which is how duplicate dispatches are silently absorbed.
func (d *DB) SetStatus(ctx context.Context, id string, expected, next incident.Status) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		"UPDATE incidents SET status = ? WHERE id = ? AND status = ?",
		string(next), id, string(expected))
	if err != nil {
		return false, fmt.Errorf("failed to update incident status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// CommitResults writes the final record sets and the terminal status in a
// single transaction. The status update is guarded on the incident still
// being in processing; if it is not (deleted or already terminal) the whole
// transaction rolls back and ErrStatusConflict is returned, so a failed run
// never leaves partial rows behind.
func (d *DB) CommitResults(ctx context.Context, incidentID string,
	vehicles []incident.DetectedVehicle, plates []incident.LicensePlate,
	final incident.Status) error {

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE incidents SET status = ? WHERE id = ? AND status = ?",
		string(final), incidentID, string(incident.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to update incident status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrStatusConflict
	}

	for i := range vehicles {
		v := &vehicles[i]
		bboxJSON, err := json.Marshal(v.BBox)
		if err != nil {
			return fmt.Errorf("failed to marshal bounding box: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO detected_vehicles
			(id, incident_id, vehicle_class, make, model, color, confidence, bounding_box, frame_timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.IncidentID, v.VehicleClass, v.Make, v.Model, v.Color,
			v.Confidence, string(bboxJSON), v.FrameTimestamp)
		if err != nil {
			return fmt.Errorf("failed to insert detected vehicle: %w", err)
		}
	}

	for i := range plates {
		p := &plates[i]
		bboxJSON, err := json.Marshal(p.BBox)
		if err != nil {
			return fmt.Errorf("failed to marshal bounding box: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO license_plates
			(id, incident_id, detection_id, plate_text, confidence, region, bounding_box, frame_timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.IncidentID, p.DetectionID, p.Text, p.Confidence, p.Region,
			string(bboxJSON), p.FrameTimestamp)
		if err != nil {
			return fmt.Errorf("failed to insert license plate: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// DeleteIncident removes an incident, its derived records (via foreign key
// cascade) and the stored video file plus any generated thumbnail
func (d *DB) DeleteIncident(ctx context.Context, id string) error {
	inc, err := d.GetIncident(ctx, id)
	if err != nil {
		return err
	}
	if inc == nil {
		return nil
	}

	if _, err := d.db.ExecContext(ctx, "DELETE FROM incidents WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete incident: %w", err)
	}

	if inc.VideoPath != "" {
		if err := os.Remove(inc.VideoPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove video file: %w", err)
		}
		// Thumbnail lives next to the video; best effort
		os.Remove(filepath.Join(filepath.Dir(inc.VideoPath), "thumbnail.jpg"))
	}
	return nil
}

// VehiclesByIncident returns the persisted vehicle detections for an
// incident, ordered by frame timestamp
func (d *DB) VehiclesByIncident(ctx context.Context, incidentID string) ([]incident.DetectedVehicle, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, incident_id, vehicle_class,
		make, model, color, confidence, bounding_box, frame_timestamp
		FROM detected_vehicles WHERE incident_id = ? ORDER BY frame_timestamp`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list detected vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []incident.DetectedVehicle
	for rows.Next() {
		var v incident.DetectedVehicle
		var bboxJSON string
		if err := rows.Scan(&v.ID, &v.IncidentID, &v.VehicleClass, &v.Make,
			&v.Model, &v.Color, &v.Confidence, &bboxJSON, &v.FrameTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan detected vehicle: %w", err)
		}
		if err := json.Unmarshal([]byte(bboxJSON), &v.BBox); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bounding box: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// PlatesByIncident returns the persisted plate reads for an incident,
// ordered by frame timestamp
func (d *DB) PlatesByIncident(ctx context.Context, incidentID string) ([]incident.LicensePlate, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, incident_id, detection_id,
		plate_text, confidence, region, bounding_box, frame_timestamp
		FROM license_plates WHERE incident_id = ? ORDER BY frame_timestamp`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list license plates: %w", err)
	}
	defer rows.Close()

	var plates []incident.LicensePlate
	for rows.Next() {
		var p incident.LicensePlate
		var bboxJSON string
		if err := rows.Scan(&p.ID, &p.IncidentID, &p.DetectionID, &p.Text,
			&p.Confidence, &p.Region, &bboxJSON, &p.FrameTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan license plate: %w", err)
		}
		if err := json.Unmarshal([]byte(bboxJSON), &p.BBox); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bounding box: %w", err)
		}
		plates = append(plates, p)
	}
	return plates, rows.Err()
}

// IncidentsByStatus returns incidents currently in the given status,
// oldest first. Used at worker startup to re-enqueue stranded pending jobs.
func (d *DB) IncidentsByStatus(ctx context.Context, status incident.Status) ([]*incident.Incident, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, user_id, type, latitude,
		longitude, occurred_at, speed, heading, description, video_path,
		video_size, status, created_at
		FROM incidents WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*incident.Incident
	for rows.Next() {
		var inc incident.Incident
		var typ, st string
		if err := rows.Scan(&inc.ID, &inc.UserID, &typ, &inc.Latitude,
			&inc.Longitude, &inc.OccurredAt, &inc.Speed, &inc.Heading,
			&inc.Description, &inc.VideoPath, &inc.VideoSize, &st, &inc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		inc.Type = incident.Type(typ)
		inc.Status = incident.Status(st)
		incidents = append(incidents, &inc)
	}
	return incidents, rows.Err()
}
