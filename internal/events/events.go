package events

import "fmt"

// Event names carried over the realtime channel. The payload shape is owned
// by whoever publishes the event; subscribers treat it as opaque JSON.
const (
	TypeNewOrder              = "newOrder"
	TypeOrderStatusChanged    = "orderStatusChanged"
	TypeTableStatusChanged    = "tableStatusChanged"
	TypeDigitalOrderCancelled = "digitalOrderCancelled"
	TypeOrderAutoRejected     = "order_auto_rejected"
	TypeDriversUpdated        = "drivers_updated"
)

// Well-known channels. Dashboards subscribe to a channel; ChannelAll fans out
// to every connected client regardless of channel.
const (
	ChannelAll     = "*"
	ChannelPOS     = "pos"
	ChannelKitchen = "kitchen"
	ChannelTables  = "tables"
)

// ChannelDigital addresses the digital-menu clients of one table.
func ChannelDigital(tableNumber int32) string {
	return fmt.Sprintf("digital:%d", tableNumber)
}

// ChannelDriver addresses a single driver's app.
func ChannelDriver(driverID string) string {
	return "driver:" + driverID
}

// Event is one named notification with a JSON-encodable payload.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Publisher fans events out to connected subscribers. Implementations must be
// safe for concurrent use; publish failures are never surfaced to callers.
type Publisher interface {
	Publish(channel string, event Event)
}

// Nop discards every event. Used in tests and by the seeder.
type Nop struct{}

func (Nop) Publish(string, Event) {}
