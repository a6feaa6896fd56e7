package grbl

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Status mirrors the motion controller's state word, typed the way the
// machine package's State.Status is typed.
type Status string

// The five state words a status frame reports, plus Idle as the default
// for anything unrecognized.
const (
	StatusIdle    Status = "Idle"
	StatusRunning Status = "Running"
	StatusPaused  Status = "Paused"
	StatusHoming  Status = "Homing"
	StatusAlarm   Status = "Alarm"
)

var stateWords = map[string]Status{
	"Idle":  StatusIdle,
	"Run":   StatusRunning,
	"Hold":  StatusPaused,
	"Home":  StatusHoming,
	"Alarm": StatusAlarm,
}

// Vec3 is a three-component double vector; duplicated from gcode.Vec3's
// shape so this package has no dependency on gcode for a status parser
// that only ever sees raw wire bytes.
type Vec3 [3]float64

// StatusUpdate is a sparse update: only the fields a frame actually
// carried are non-nil. The machine controller copies present fields into
// its state and leaves absent ones untouched.
type StatusUpdate struct {
	Status     *Status
	MachinePos *Vec3
	WorkOffset *Vec3
	FeedRate   *float64
	SpindleRPM *float64
}

// parseStatus decodes one status frame of the form
// "<Idle|MPos:0.000,0.000,0.000|FS:0,0|WCO:0.000,0.000,0.000>". The
// caller has already verified the line is wrapped in angle brackets.
// Any word that is not one of the five recognized state words resolves
// to Idle, matching the original status parser's dict.get(token, idle)
// fallback; a coordinate or feed/rpm field that fails to parse is
// dropped rather than aborting the whole frame.
func parseStatus(line string) StatusUpdate {
	body := strings.TrimSuffix(strings.TrimPrefix(line, "<"), ">")
	fields := strings.Split(body, "|")

	update := StatusUpdate{}
	status := StatusIdle

	for _, f := range fields {
		if s, ok := stateWords[f]; ok {
			status = s
			continue
		}
		switch {
		case strings.HasPrefix(f, "MPos:"):
			if v, err := parseVec3(f[len("MPos:"):]); err == nil {
				update.MachinePos = &v
			}
		case strings.HasPrefix(f, "WCO:"):
			if v, err := parseVec3(f[len("WCO:"):]); err == nil {
				update.WorkOffset = &v
			}
		case strings.HasPrefix(f, "FS:"):
			if feed, rpm, err := parseFeedSpindle(f[len("FS:"):]); err == nil {
				update.FeedRate = &feed
				update.SpindleRPM = &rpm
			}
		case strings.HasPrefix(f, "Ov:"):
			// override percentages; not part of the reported state
		case f == "":
			// a frame with no recognized word still defaults to Idle
		default:
			// unrecognized field, ignored
		}
	}
	update.Status = &status
	return update
}

func parseVec3(s string) (Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Vec3{}, errors.Errorf("expected 3 coordinates, got %d in %q", len(parts), s)
	}
	var v Vec3
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Vec3{}, errors.Wrapf(err, "parsing coordinate %q", p)
		}
		v[i] = f
	}
	return v, nil
}

func parseFeedSpindle(s string) (feed, rpm float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("expected feed,rpm pair, got %q", s)
	}
	feed, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parsing feed %q", parts[0])
	}
	rpm, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parsing rpm %q", parts[1])
	}
	return feed, rpm, nil
}
