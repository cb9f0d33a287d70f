package database

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/jordanhubbard/ranguard/internal/models"
)

const earthRadiusMeters = 6371000

// haversineMeters returns the great-circle distance between two points.
func haversineMeters(a, b models.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// GetNearbyNodes returns the nodes within radiusMeters of a location.
// The bounding box narrows the scan; the haversine check decides.
func (d *Database) GetNearbyNodes(location models.Location, radiusMeters float64) ([]*models.Node, error) {
	latDelta := radiusMeters / 111000.0
	lonDelta := latDelta / math.Max(math.Cos(location.Latitude*math.Pi/180), 0.01)

	rows, err := d.db.Query(rebind(`
		SELECT node_id, name, latitude, longitude, site, technology, capacity
		FROM nodes
		WHERE latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
	`),
		location.Latitude-latDelta, location.Latitude+latDelta,
		location.Longitude-lonDelta, location.Longitude+lonDelta,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		node := &models.Node{}
		err := rows.Scan(
			&node.NodeID,
			&node.Name,
			&node.Location.Latitude,
			&node.Location.Longitude,
			&node.Site,
			&node.Technology,
			&node.Capacity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if haversineMeters(location, node.Location) <= radiusMeters {
			nodes = append(nodes, node)
		}
	}
	return nodes, rows.Err()
}

// GetPerformanceData returns a node's performance samples taken at or
// after since, oldest first.
func (d *Database) GetPerformanceData(nodeID string, since time.Time) ([]models.PerformanceSample, error) {
	rows, err := d.db.Query(rebind(`
		SELECT sampled_at, max_rrc_conn_users, rrc_setup_success, downlink_throughput
		FROM performance_samples
		WHERE node_id = ? AND sampled_at >= ?
		ORDER BY sampled_at ASC
	`), nodeID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance samples: %w", err)
	}
	defer rows.Close()

	var samples []models.PerformanceSample
	for rows.Next() {
		var s models.PerformanceSample
		err := rows.Scan(&s.Timestamp, &s.MaxRRCConnUsers, &s.RRCSetupSuccess, &s.DownlinkThroughput)
		if err != nil {
			return nil, fmt.Errorf("failed to scan performance sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// GetAlarms returns a node's alarms raised at or after since, newest
// first.
func (d *Database) GetAlarms(nodeID string, since time.Time) ([]models.Alarm, error) {
	rows, err := d.db.Query(rebind(`
		SELECT alarm_id, node_id, severity, message, raised_at, cleared_at
		FROM alarms
		WHERE node_id = ? AND raised_at >= ?
		ORDER BY raised_at DESC
	`), nodeID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarms: %w", err)
	}
	defer rows.Close()

	var alarms []models.Alarm
	for rows.Next() {
		var a models.Alarm
		var clearedAt sql.NullTime
		err := rows.Scan(&a.AlarmID, &a.NodeID, &a.Severity, &a.Message, &a.RaisedAt, &clearedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alarm: %w", err)
		}
		if clearedAt.Valid {
			t := clearedAt.Time
			a.ClearedAt = &t
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}
