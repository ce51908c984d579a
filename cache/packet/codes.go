package packet

type Code uint16

const (
	CHALLENGE Code = 999
	LOGIN_REQ Code = 1000
	LOGIN_RSP Code = 1001

	KEEPALIVE_REQ Code = 1005
	KEEPALIVE_RSP Code = 1006

	UPDATE_REQ Code = 1100
	UPDATE_RSP Code = 1101
	GET_REQ    Code = 1102
	GET_RSP    Code = 1103

	// Sent instead of a regular response when the request could not be served.
	ERROR_RSP Code = 1199
)

var Names = map[Code]string{
	CHALLENGE:     "Challenge",
	LOGIN_REQ:     "Login",
	LOGIN_RSP:     "LoginResponse",
	KEEPALIVE_REQ: "KeepAlive",
	KEEPALIVE_RSP: "KeepAliveResponse",
	UPDATE_REQ:    "Update",
	UPDATE_RSP:    "UpdateResponse",
	GET_REQ:       "Get",
	GET_RSP:       "GetResponse",
	ERROR_RSP:     "Error",
}

// Response returns the code a server answers req with.
func Response(req Code) Code {
	switch req {
	case LOGIN_REQ:
		return LOGIN_RSP
	case KEEPALIVE_REQ:
		return KEEPALIVE_RSP
	case UPDATE_REQ:
		return UPDATE_RSP
	case GET_REQ:
		return GET_RSP
	}
	return ERROR_RSP
}
