package event

/* Static catalog of the event types producers are known to publish
 * The wildcard "all" subscribes a webhook to every event; "test_event"
 * is reserved for subscriber-side verification
 */

// TypeAll is the sentinel event type that matches every event
const TypeAll = "all"

// TypeTest is the default event type used by the webhook test endpoint
const TypeTest = "test_event"

// Taxonomy groups the known event types by the subsystem that emits them
type Taxonomy struct {
	ScrapingEvents []string `json:"scraping_events"`
	AnalysisEvents []string `json:"analysis_events"`
	SystemEvents   []string `json:"system_events"`
	UserEvents     []string `json:"user_events"`
}

// SpecialTypes maps reserved event types to their meaning
func SpecialTypes() map[string]string {
	return map[string]string{
		TypeAll:  "receive every event",
		TypeTest: "test event for subscriber verification",
	}
}

// Types returns the static event-type catalog
func Types() Taxonomy {
	return Taxonomy{
		ScrapingEvents: []string{
			"scraping_started",
			"scraping_completed",
			"scraping_failed",
			"content_found",
			"viral_content_found",
		},
		AnalysisEvents: []string{
			"content_analyzed",
			"profile_analyzed",
			"template_generated",
			"pattern_identified",
			"trend_detected",
		},
		SystemEvents: []string{
			"system_maintenance",
			"backup_completed",
			"service_started",
			"service_stopped",
			"error_occurred",
		},
		UserEvents: []string{
			"user_registered",
			"user_upgraded",
			"api_limit_reached",
			"subscription_expired",
		},
	}
}

// Total counts every event type in the taxonomy
func (t Taxonomy) Total() int {
	return len(t.ScrapingEvents) + len(t.AnalysisEvents) + len(t.SystemEvents) + len(t.UserEvents)
}
