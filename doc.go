/*
Package portier documents the Portier module.

This module is CLI-first and ships the portier command:

	go install github.com/portierproxy/portier/cmd/portier@latest

Most implementation packages in this repository are internal and are not a
stable public Go API.
*/
package portier
