package analytics

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jsndz/signalpush/pkg/models"
	"github.com/jsndz/signalpush/pkg/types"
)

const (
	tempMarker   = ":tmp:"
	flushLockKey = "analytics:flush:lock"
)

// Kind describes one accumulation structure and its retry list.
type Kind struct {
	Name     string
	Prefix   string
	RetryKey string
}

var (
	Delta = Kind{
		Name:     models.FlushKindDelta,
		Prefix:   "analytics:delta:",
		RetryKey: "analytics:retry:delta",
	}
	Buffer = Kind{
		Name:     models.FlushKindBuffer,
		Prefix:   "analytics:buffer:",
		RetryKey: "analytics:retry:buffer",
	}
	Kinds = []Kind{Delta, Buffer}
)

func (k Kind) LiveKey(projectID string) string {
	return k.Prefix + projectID
}

func (k Kind) pattern() string {
	return k.Prefix + "*"
}

func (k Kind) tempPattern() string {
	return k.Prefix + "*" + tempMarker + "*"
}

// TempKey names the rotated copy of live taken at at.
func TempKey(live string, at time.Time) string {
	return live + tempMarker + strconv.FormatInt(at.UnixMilli(), 10)
}

var tempSuffix = regexp.MustCompile(tempMarker + `[0-9]+$`)

// IsTempKey reports whether key ends in the ":tmp:<millis>" suffix TempKey adds.
func IsTempKey(key string) bool {
	return tempSuffix.MatchString(key)
}

// ProjectID extracts the project from a live or temp key of this kind. Keys
// whose project part is not a valid project id are refused.
func (k Kind) ProjectID(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, k.Prefix)
	if !ok {
		return "", false
	}
	if loc := tempSuffix.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[0]]
	}
	return rest, types.ValidProjectID(rest)
}
