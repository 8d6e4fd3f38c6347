package storage

import (
	"fmt"

	"github.com/ruteri/device-provisioning-backend/interfaces"
)

// namespace returns the directory or key prefix of a content type.
func namespace(ct interfaces.ContentType) (string, error) {
	switch ct {
	case interfaces.CertificateType:
		return "certificates", nil
	case interfaces.RecordType:
		return "records", nil
	default:
		return "", fmt.Errorf("unsupported content type: %v", ct)
	}
}

// extension is appended to stored object names so archives stay browsable.
func extension(ct interfaces.ContentType) string {
	if ct == interfaces.RecordType {
		return ".json"
	}
	return ".pem"
}

func objectName(id interfaces.ContentID, ct interfaces.ContentType) (string, error) {
	ns, err := namespace(ct)
	if err != nil {
		return "", err
	}
	return ns + "/" + id.String() + extension(ct), nil
}
