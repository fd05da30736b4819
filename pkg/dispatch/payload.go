package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/jsndz/signalpush/pkg/types"
)

// BuildPayload produces the JSON a subscriber's service worker receives.
// Every payload carries projectId, type and notificationId at the top level.
// Ad-hoc bodies get the job overrides merged on top. Raw data objects are
// sent as given; any other raw JSON value is wrapped under "data".
func BuildPayload(job *types.DispatchJob) ([]byte, error) {
	var out map[string]interface{}
	switch job.Type {
	case types.NotificationAdHoc:
		if job.Body == nil {
			return nil, fmt.Errorf("%w: type 0 requires body", types.ErrInvalidJob)
		}
		raw, err := json.Marshal(job.Body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		for k, v := range job.Overrides {
			out[k] = v
		}
	case types.NotificationRaw:
		var v interface{}
		if err := json.Unmarshal(job.Data, &v); err != nil {
			return nil, fmt.Errorf("%w: data: %v", types.ErrInvalidJob, err)
		}
		if obj, ok := v.(map[string]interface{}); ok {
			out = obj
		} else {
			out = map[string]interface{}{"data": v}
		}
	case types.NotificationTemplate:
		return nil, types.ErrTemplateNotImplemented
	default:
		return nil, fmt.Errorf("%w: type %q", types.ErrInvalidJob, job.Type)
	}

	out["projectId"] = job.ProjectID
	out["type"] = string(job.Type)
	if job.NotificationID != "" {
		out["notificationId"] = job.NotificationID
	}
	return json.Marshal(out)
}
