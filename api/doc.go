/*
Package api defines the JSON wire types of the provisioning HTTP service and a
client for it.

# Endpoints

  - POST /api/provision: body is a request.RawRequest, response a ProvisionResponse
  - GET /api/devices: supported device profiles, see DevicesResponse
  - GET /api/info: service information, see InfoResponse
  - GET /health: liveness with the busy flag, see HealthResponse

A failed provisioning session is still answered with a ProvisionResponse,
carrying the failed step, the raw device status when the device reported
one, and the cleanup warnings collected while releasing the probe.
*/
package api
