/*
Package httpserver implements the HTTP front-end of the provisioning service.

It accepts provisioning requests as JSON, runs them through a
provisioner.Orchestrator attached to the local debug probe, optionally
archives the issued certificates, and answers with an api.ProvisionResponse.

API Endpoints:

  - POST /api/provision: provision one device
  - GET /api/devices: supported device profiles
  - GET /api/info: service version, uptime and busy flag
  - GET /health: liveness including the busy flag
  - GET /livez, /readyz, /drain, /undrain: orchestration hooks
  - /debug: pprof, when enabled

Provisioning sessions are serialized by the orchestrator; a request that
arrives while another session runs waits for it. While the server is
drained, new provisioning requests are refused with 503.
*/
package httpserver
