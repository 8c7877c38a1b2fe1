package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCommandVerification records the outcome of one send-and-verify
// cycle: component kind and property as tags, attempt count and wall
// time as fields. Non-blocking; points batch in the background.
func (c *Client) WriteCommandVerification(kind, property, status string, attempts int, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		"command_verification",
		map[string]string{
			"kind":     kind,
			"property": property,
			"status":   status,
		},
		map[string]interface{}{
			"attempts":   attempts,
			"elapsed_ms": elapsed.Milliseconds(),
		},
		time.Now(),
	))
}

// WriteSweepUnit records one capability sweep verdict, timing included,
// so sweep duration regressions show up in the dashboards.
func (c *Client) WriteSweepUnit(zone int, mode, outcome string, level int, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		"sweep_unit",
		map[string]string{
			"zone":    strconv.Itoa(zone),
			"mode":    mode,
			"outcome": outcome,
		},
		map[string]interface{}{
			"level":      level,
			"elapsed_ms": elapsed.Milliseconds(),
		},
		time.Now(),
	))
}

// WriteSpaMetric records one slow-moving telemetry reading from the
// poll loop, water temperature being the main one.
func (c *Client) WriteSpaMetric(spaID, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		"spa_metrics",
		map[string]string{
			"spa_id":      spaID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	))
}
