// Package timing runs the simulated calendar. Time advances in whole days and
// events are plain data delivered to Handlers in day order.
package timing

import "github.com/sarchlab/episim/instrumentation/hooking"

// Day is a simulated day. Day 0 is the day the population is seeded.
type Day int

// NoDay marks "no day scheduled".
const NoDay Day = -1

// Handler processes events of various types. Events are plain data structs
// and handlers type-switch on them:
//
//	func (c *Clock) Handle(event any) error {
//	    switch e := event.(type) {
//	    case *DayTick:
//	        return c.tick(e.Day)
//	    default:
//	        return fmt.Errorf("unknown event type: %T", event)
//	    }
//	}
type Handler interface {
	Handle(event any) error
}

// TimeTeller exposes the current simulated day.
type TimeTeller interface {
	CurrentTime() Day
}

// EventScheduler schedules events on the calendar.
type EventScheduler interface {
	TimeTeller
	Schedule(event ScheduledEvent)
}

// ScheduledEvent is the engine-facing wrapper for user-defined events.
type ScheduledEvent struct {
	// Event is the payload delivered to the handler.
	Event any

	// Time is the day the event should be processed.
	Time Day

	// Handler is the component that will process this event.
	Handler Handler

	// IsSecondary events run after all primary events of the same day.
	IsSecondary bool
}

// Hook positions raised by the engines in this package.
var (
	HookPosBeforeEvent = &hooking.HookPos{Name: "BeforeEvent"}
	HookPosAfterEvent  = &hooking.HookPos{Name: "AfterEvent"}
)
