package sim_test

import (
	"context"
	"crypto/x509"
	"path/filepath"
	"testing"

	"github.com/ruteri/device-provisioning-backend/ca/localca"
	"github.com/ruteri/device-provisioning-backend/devices"
	"github.com/ruteri/device-provisioning-backend/interfaces"
	"github.com/ruteri/device-provisioning-backend/protocol"
	"github.com/ruteri/device-provisioning-backend/provisioner"
	"github.com/ruteri/device-provisioning-backend/request"
	"github.com/ruteri/device-provisioning-backend/transport/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serial = []byte{0x00, 0x0b, 0x57, 0xff, 0xfe, 0x12, 0x34, 0x56}

func profile(t *testing.T) interfaces.DeviceProfile {
	t.Helper()
	p, ok := devices.Lookup("xg25")
	require.True(t, ok)
	return p
}

func open(t *testing.T, dev *sim.Device) interfaces.ProbeSession {
	t.Helper()
	s, err := sim.New(nil, dev).Connect(context.Background(), profile(t), interfaces.ProbeTarget{Serial: "440012345"})
	require.NoError(t, err)
	require.NoError(t, s.ResetAndHalt())
	require.NoError(t, s.RunApplication(profile(t).RAMAddress, []byte{0x01}))
	require.NoError(t, s.StartStream())
	return s
}

func roundTrip(t *testing.T, s interfaces.ProbeSession, cmd protocol.Command, msg []byte) protocol.Response {
	t.Helper()
	require.NoError(t, s.Send(msg))
	reply, err := s.Receive()
	require.NoError(t, err)
	resp, err := protocol.DecodeResponse(cmd, reply)
	require.NoError(t, err)
	return resp
}

func TestDeviceModel(t *testing.T) {
	dev := sim.NewDevice(serial)
	s := open(t, dev)
	p := profile(t)

	raw, err := s.ReadSerial()
	require.NoError(t, err)
	assert.Equal(t, serial, raw)

	resp := roundTrip(t, s, protocol.CmdWriteNvm, protocol.EncodeWriteNvm(protocol.RootCertObject, []byte("x")))
	assert.Equal(t, sim.StatusNvmNotReady, resp.Status)

	resp = roundTrip(t, s, protocol.CmdGenerateCsr, protocol.EncodeGenerateCsr(protocol.DeviceKeyID))
	assert.Equal(t, sim.StatusNoKey, resp.Status)

	resp = roundTrip(t, s, protocol.CmdInitializeNvm, protocol.EncodeInitializeNvm(p.NVMStart, p.NVMSize))
	assert.True(t, resp.OK())

	resp = roundTrip(t, s, protocol.CmdGenerateKeyPair, protocol.EncodeGenerateKeyPair(protocol.DeviceKeyID))
	assert.True(t, resp.OK())
	resp = roundTrip(t, s, protocol.CmdGenerateKeyPair, protocol.EncodeGenerateKeyPair(protocol.DeviceKeyID))
	assert.Equal(t, uint32(protocol.StatusKeyExists), resp.Status)

	resp = roundTrip(t, s, protocol.CmdGenerateCsr, protocol.EncodeGenerateCsr(protocol.DeviceKeyID))
	require.True(t, resp.OK())
	csr, err := x509.ParseCertificateRequest(resp.Payload)
	require.NoError(t, err)
	assert.Equal(t, dev.Serial().String(), csr.Subject.CommonName)
	assert.True(t, dev.PublicKey().Equal(csr.PublicKey))

	resp = roundTrip(t, s, protocol.CmdWriteNvm, protocol.EncodeWriteNvm(protocol.RootCertObject, []byte("root")))
	assert.True(t, resp.OK())
	resp = roundTrip(t, s, protocol.CmdReadNvm, protocol.EncodeReadNvm(protocol.RootCertObject))
	assert.Equal(t, []byte("root"), resp.Payload)
	resp = roundTrip(t, s, protocol.CmdReadNvm, protocol.EncodeReadNvm(protocol.BatchCertObject))
	assert.Equal(t, sim.StatusObjectNotFound, resp.Status)

	dev.FailWith(protocol.CmdInitializeNvm, 7)
	resp = roundTrip(t, s, protocol.CmdInitializeNvm, protocol.EncodeInitializeNvm(p.NVMStart, p.NVMSize))
	assert.Equal(t, uint32(7), resp.Status)
	dev.Clear()

	_, err = s.Receive()
	assert.ErrorIs(t, err, sim.ErrNoResponse)
}

func TestSessionLifecycle(t *testing.T) {
	tr := sim.New(nil, nil)
	_, err := tr.Connect(context.Background(), profile(t), interfaces.ProbeTarget{Host: "10.0.0.5"})
	assert.ErrorIs(t, err, sim.ErrUnknownProbe)

	tr.Attach("10.0.0.5", sim.NewDevice(serial))
	s, err := tr.Connect(context.Background(), profile(t), interfaces.ProbeTarget{Host: "10.0.0.5"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.RunApplication(profile(t).RAMAddress, []byte{1}), sim.ErrNotHalted)
	assert.ErrorIs(t, s.StartStream(), sim.ErrNotRunning)
	assert.ErrorIs(t, s.Send([]byte{}), sim.ErrNoStream)

	require.NoError(t, s.ResetAndHalt())
	assert.Error(t, s.RunApplication(0x1000, []byte{1}))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), sim.ErrClosed)
	assert.ErrorIs(t, s.Reset(), sim.ErrClosed)
}

func TestProvisionSimulatedDevice(t *testing.T) {
	config, err := localca.InitDirectory(filepath.Join(t.TempDir(), "pki"), localca.InitOptions{Organization: "Acme"})
	require.NoError(t, err)

	dev := sim.NewDevice(serial)
	orch, err := provisioner.New(provisioner.Config{
		Transport:   sim.New(nil, dev),
		Authorities: map[request.Mode]interfaces.CertificateAuthority{request.PrimaryCA: localca.New(nil)},
	})
	require.NoError(t, err)

	req, err := request.New(request.Params{
		DeviceKind:  "xg25",
		Mode:        request.PrimaryCA,
		Image:       []byte{0xde, 0xad},
		Target:      interfaces.ProbeTarget{Serial: "440012345"},
		ProductID:   "1.3.6.1.4.1.41948.7",
		CAConfigRef: config,
	})
	require.NoError(t, err)

	result, err := orch.Execute(context.Background(), request.PrimaryCA, req)
	require.NoError(t, err)
	assert.Equal(t, dev.Serial(), result.DeviceSerial)
	assert.Empty(t, result.Warnings)

	nvm := dev.NVM()
	assert.Equal(t, result.Chain.Device, nvm[protocol.DeviceCertObject])
	assert.Equal(t, result.Chain.Batch, nvm[protocol.BatchCertObject])
	assert.Equal(t, result.Chain.Root, nvm[protocol.RootCertObject])

	cert, err := x509.ParseCertificate(nvm[protocol.DeviceCertObject])
	require.NoError(t, err)
	assert.True(t, dev.PublicKey().Equal(cert.PublicKey))

	// A second run reuses the existing key.
	again, err := orch.Execute(context.Background(), request.PrimaryCA, req)
	require.NoError(t, err)
	second, err := x509.ParseCertificate(again.Chain.Device)
	require.NoError(t, err)
	assert.True(t, dev.PublicKey().Equal(second.PublicKey))
}

func TestProvisionSimulatedFailure(t *testing.T) {
	config, err := localca.InitDirectory(filepath.Join(t.TempDir(), "pki"), localca.InitOptions{})
	require.NoError(t, err)

	dev := sim.NewDevice(serial)
	dev.FailWith(protocol.CmdWriteNvm, 9)

	orch, err := provisioner.New(provisioner.Config{
		Transport:   sim.New(nil, dev),
		Authorities: map[request.Mode]interfaces.CertificateAuthority{request.PrimaryCA: localca.New(nil)},
	})
	require.NoError(t, err)

	req, err := request.New(request.Params{
		DeviceKind:  "xg12",
		Mode:        request.PrimaryCA,
		Image:       []byte{1},
		Target:      interfaces.ProbeTarget{Host: "10.0.0.9"},
		ProductID:   "1.2.3",
		CAConfigRef: config,
	})
	require.NoError(t, err)

	_, err = orch.Execute(context.Background(), request.PrimaryCA, req)
	var perr *provisioner.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, provisioner.ErrNvmWriteFailed)
	assert.Equal(t, provisioner.StateNvmWriteDevice, perr.Step)
	assert.Equal(t, provisioner.ArtifactDevice, perr.Artifact)
	assert.Empty(t, dev.NVM())
}
