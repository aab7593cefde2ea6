package chat

import "fmt"

// ErrorCode is the per-message send error reported by the host.
type ErrorCode uint32

const (
	NoError ErrorCode = iota
	UnknownError
	Cancelled
	Timeout
	SendFailed
	InternalFailure
	NetworkFailure
	NetworkLookupFailure
	NetworkConnectionFailure
	NoNetworkFailure
	NetworkBusyFailure
	NetworkDeniedFailure
	ServerSignatureError
	ServerDecodeError
	ServerParseError
	ServerInternalError
	ServerInvalidRequestError
	ServerMalformedRequestError
	ServerUnknownRequestError
	ServerInvalidTokenError
	ServerRejectedError
	RemoteUserInvalid
	RemoteUserDoesNotExist
	RemoteUserIncompatible
	RemoteUserRejected
	TranscodingFailure
	EncryptionFailure
	DecryptionFailure
	OTREncryptionFailure
	OTRDecryptionFailure
	LocalAccountDisabled
	LocalAccountDoesNotExist
	LocalAccountNeedsUpdate
	LocalAccountInvalid
	InvalidLocalCredentials
	AttachmentUploadFailure
	AttachmentDownloadFailure
	MessageAttachmentUploadFailure
	MessageAttachmentDownloadFailure
	SystemNeedsUpdate
	ServiceCrashed
	AttachmentDownloadFailureFileNotFound
	TextRenderingPreflightFailed
)

var errorNames = map[ErrorCode]string{
	NoError:                               "noError",
	UnknownError:                          "unknownError",
	Cancelled:                             "cancelled",
	Timeout:                               "timeout",
	SendFailed:                            "sendFailed",
	InternalFailure:                       "internalFailure",
	NetworkFailure:                        "networkFailure",
	NetworkLookupFailure:                  "networkLookupFailure",
	NetworkConnectionFailure:              "networkConnectionFailure",
	NoNetworkFailure:                      "noNetworkFailure",
	NetworkBusyFailure:                    "networkBusyFailure",
	NetworkDeniedFailure:                  "networkDeniedFailure",
	ServerSignatureError:                  "serverSignatureError",
	ServerDecodeError:                     "serverDecodeError",
	ServerParseError:                      "serverParseError",
	ServerInternalError:                   "serverInternalError",
	ServerInvalidRequestError:             "serverInvalidRequestError",
	ServerMalformedRequestError:           "serverMalformedRequestError",
	ServerUnknownRequestError:             "serverUnknownRequestError",
	ServerInvalidTokenError:               "serverInvalidTokenError",
	ServerRejectedError:                   "serverRejectedError",
	RemoteUserInvalid:                     "remoteUserInvalid",
	RemoteUserDoesNotExist:                "remoteUserDoesNotExist",
	RemoteUserIncompatible:                "remoteUserIncompatible",
	RemoteUserRejected:                    "remoteUserRejected",
	TranscodingFailure:                    "transcodingFailure",
	EncryptionFailure:                     "encryptionFailure",
	DecryptionFailure:                     "decryptionFailure",
	OTREncryptionFailure:                  "otrEncryptionFailure",
	OTRDecryptionFailure:                  "otrDecryptionFailure",
	LocalAccountDisabled:                  "localAccountDisabled",
	LocalAccountDoesNotExist:              "localAccountDoesNotExist",
	LocalAccountNeedsUpdate:               "localAccountNeedsUpdate",
	LocalAccountInvalid:                   "localAccountInvalid",
	InvalidLocalCredentials:               "invalidLocalCredentials",
	AttachmentUploadFailure:               "attachmentUploadFailure",
	AttachmentDownloadFailure:             "attachmentDownloadFailure",
	MessageAttachmentUploadFailure:        "messageAttachmentUploadFailure",
	MessageAttachmentDownloadFailure:      "messageAttachmentDownloadFailure",
	SystemNeedsUpdate:                     "systemNeedsUpdate",
	ServiceCrashed:                        "serviceCrashed",
	AttachmentDownloadFailureFileNotFound: "attachmentDownloadFailureFileNotFound",
	TextRenderingPreflightFailed:          "textRenderingPreflightFailed",
}

func (e ErrorCode) String() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("error(%d)", uint32(e))
}

// ErrorClass groups error codes by what went wrong.
type ErrorClass uint8

const (
	ClassNone ErrorClass = iota
	ClassRemoteUser
	ClassNetwork
	ClassEncryption
	ClassSend
	ClassAttachment
	ClassLocalAccount
	ClassServer
	ClassOther
)

// Class reports the group an error code belongs to.
func (e ErrorCode) Class() ErrorClass {
	switch e {
	case NoError:
		return ClassNone
	case RemoteUserDoesNotExist, RemoteUserIncompatible, RemoteUserInvalid, RemoteUserRejected:
		return ClassRemoteUser
	case NetworkFailure, NetworkBusyFailure, NetworkDeniedFailure, NetworkLookupFailure,
		NetworkConnectionFailure, NoNetworkFailure:
		return ClassNetwork
	case EncryptionFailure, OTREncryptionFailure, DecryptionFailure, OTRDecryptionFailure:
		return ClassEncryption
	case SendFailed, Timeout, ServerInternalError, InternalFailure, ServiceCrashed:
		return ClassSend
	case AttachmentUploadFailure, MessageAttachmentUploadFailure:
		return ClassAttachment
	case LocalAccountDisabled, LocalAccountInvalid, LocalAccountNeedsUpdate, LocalAccountDoesNotExist,
		InvalidLocalCredentials:
		return ClassLocalAccount
	case ServerSignatureError, ServerDecodeError, ServerParseError, ServerInvalidRequestError,
		ServerMalformedRequestError, ServerUnknownRequestError, ServerInvalidTokenError, ServerRejectedError:
		return ClassServer
	default:
		return ClassOther
	}
}

// Retryable reports whether a send that failed with e may be retried on
// another service.
func (e ErrorCode) Retryable() bool {
	switch e.Class() {
	case ClassRemoteUser, ClassNetwork, ClassEncryption, ClassSend, ClassAttachment:
		return true
	default:
		return false
	}
}
