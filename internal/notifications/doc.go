// Package notifications publishes queue lifecycle events to the outside world.
//
// Two transports are provided: ntfy HTTP pushes for humans and an AMQP topic
// exchange for machines. NewService assembles whichever are configured behind
// the Service interface and degrades to a no-op when neither is. NewListener
// adapts a Service to the workflow listener contract so terminal item events
// are forwarded without blocking the worker that produced them.
package notifications
