// Package main (cmd/httpserver) runs the device provisioning HTTP service.
//
// The service owns the debug probes attached to its host and provisions one
// device at a time. Requests name the SoC, the provisioning image on the
// service host, the probe (USB serial number or network address) and the
// certificate authority mode:
//
//   - cpms (1): the local batch CA signs the device certificate and embeds the
//     product OID
//   - serca (2): the device certificate is enrolled through an EST server
//
// Both CA clients read their settings from the TOML file referenced by the
// request (ca.toml by default), see package ca.
//
// Issued certificates and a JSON provisioning record can be archived to one
// or more storage locations with --archive. Archive failures are reported as
// warnings and never fail a provisioning session.
//
// Example usage:
//
//	provisioning-server --listen-addr=0.0.0.0:8080 \
//	    --jlink-exe=/opt/SEGGER/JLink/JLinkExe \
//	    --jlink-gdbserver=/opt/SEGGER/JLink/JLinkGDBServerCLExe \
//	    --archive=file:///var/lib/provisioning \
//	    --archive='s3://provisioning-archive/records/?region=eu-central-1'
//
// Without hardware:
//
//	provisioning-server --simulate --pprof
package main
