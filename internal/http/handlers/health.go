package handlers

import "net/http"

const serviceName = "sara-voice-agent"

// Health answers liveness probes.
func Health(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": serviceName,
			"version": version,
		})
	}
}
