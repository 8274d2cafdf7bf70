// Package hostsched stands in for the operating system's job scheduler and
// alarm service inside the daemon. A single goroutine keeps a min-heap of
// named alarms sorted by fire time and sleeps at most 60 seconds at a time,
// so NTP steps, DST changes and host suspend cannot leave it oversleeping.
//
// Alarm callbacks run on their own goroutines, the way OS-managed worker
// threads would, and never block the scheduler. Nothing is persisted: alarms
// are registered again on every boot.
package hostsched
