package ftp

import (
	"errors"
	"fmt"
)

// Reply codes the package reacts to.
const (
	CodeSyntaxError         = 500
	CodeArgumentError       = 501
	CodeNotImplemented      = 502
	CodeParamNotImplemented = 504
	CodeNotLoggedIn         = 530
	CodeFileUnavailable     = 550
)

// ReplyError is a negative or unexpected server reply.
type ReplyError struct {
	Code int
	Msg  string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("ftp: server replied %d %s", e.Code, e.Msg)
}

// NotFoundError reports a remote path that a listing did not contain.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ftp: %s: no such file or directory", e.Path)
}

// IsNotFound reports whether err means the remote path does not exist, either because
// a listing lacked it or because the server answered 550.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}

	var re *ReplyError

	return errors.As(err, &re) && re.Code == CodeFileUnavailable
}

// isRejected reports whether the server refused a command outright, which is how
// servers without MLSD support answer it.
func isRejected(err error) bool {
	var re *ReplyError
	if !errors.As(err, &re) {
		return false
	}

	switch re.Code {
	case CodeSyntaxError, CodeArgumentError, CodeNotImplemented, CodeParamNotImplemented,
		CodeNotLoggedIn, CodeFileUnavailable:
		return true
	default:
		return false
	}
}

func isUnsupported(err error) bool {
	var re *ReplyError

	return errors.As(err, &re) && (re.Code == CodeSyntaxError || re.Code == CodeNotImplemented)
}
