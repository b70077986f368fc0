package plugins

// ButtonEventFor maps a device button state to its dispatch event
// (§4.10.5). LONG_PRESS is reserved and has no default event.
func ButtonEventFor(state string) (Event, bool) {
	switch state {
	case "SINGLE_PRESS":
		return EventButtonSinglePress, true
	case "DOUBLE_PRESS":
		return EventButtonDoublePress, true
	default:
		return "", false
	}
}
