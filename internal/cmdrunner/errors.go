// Copyright (2016) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package cmdrunner

import "fmt"

// ErrKind is one of the five parser error kinds.
type ErrKind string

const (
	WrongFormat    ErrKind = "wrong_format"
	UnknownCommand ErrKind = "unknown_command"
	NoParam        ErrKind = "no_param"
	InvalidType    ErrKind = "invalid_type"
	InvalidValue   ErrKind = "invalid_value"
)

// CmdError is a parse or execution failure for a single command, always
// carrying the offending parameter name so the response can report it.
type CmdError struct {
	Kind  ErrKind
	Param string
	Msg   string
}

func (e *CmdError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s (param %q)", e.Kind, e.Msg, e.Param)
}

func wrongFormat(msg string) *CmdError    { return &CmdError{Kind: WrongFormat, Msg: msg} }
func unknownCommand(msg string) *CmdError { return &CmdError{Kind: UnknownCommand, Msg: msg} }
func noParam(param string) *CmdError {
	return &CmdError{Kind: NoParam, Param: param, Msg: "missing parameter"}
}
func invalidType(param, msg string) *CmdError {
	return &CmdError{Kind: InvalidType, Param: param, Msg: msg}
}
func invalidValue(param, msg string) *CmdError {
	return &CmdError{Kind: InvalidValue, Param: param, Msg: msg}
}
