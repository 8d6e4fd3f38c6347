// Package main (cmd/provisionctl) is the client of the provisioning server.
//
// Commands:
//
//	provisionctl --server http://bench-3:8080 provision --soc xg25 --mode cpms \
//	    --prov-img /srv/images/prov_xg25.bin --jlink-ser 440123456 --oid 1.3.6.1.4.1.41948.7
//	provisionctl devices
//	provisionctl info
//	provisionctl init-ca --dir pki --validity-days 0
package main
