// Package daemonrun builds and runs the mediaconv daemon process. Both the
// mediaconvd binary and `mediaconv run` use it.
package daemonrun
