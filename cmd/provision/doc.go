// Package main (cmd/provision) provisions one device from the command line.
//
// It takes --soc, --prov_img, one of --jlink_ser or --jlink_host, --cpms with
// --oid for the local batch CA, and --config naming the CA configuration. Without --cpms the device is
// enrolled through EST.
//
// Example usage:
//
//	provision --soc xg25 --prov_img prov_xg25.bin --jlink_ser 440123456 \
//	    --cpms --oid 1.3.6.1.4.1.41948.7 --config pki/ca.toml --out-dir certs/
package main
