package dispatch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/geo-appointment-scheduling/internal/appointment"
	"github.com/hackgods/geo-appointment-scheduling/internal/calendar"
	"github.com/hackgods/geo-appointment-scheduling/internal/notify"
	"github.com/hackgods/geo-appointment-scheduling/internal/records"
)

type TaskKind string

const (
	TaskNotify           TaskKind = "notify"
	TaskSeedConsultation TaskKind = "seed_consultation"
)

// Task is one side effect of a transition. Key identifies it across retries
// and redeliveries.
type Task struct {
	Key         string
	Kind        TaskKind
	Event       appointment.Event
	RecipientID uuid.UUID
}

func notifyTask(ev appointment.Event, recipient uuid.UUID) Task {
	return Task{
		Key:         fmt.Sprintf("%s:%s:%s", ev.Appointment.ID, ev.Kind, recipient),
		Kind:        TaskNotify,
		Event:       ev,
		RecipientID: recipient,
	}
}

// TasksFor expands an event into the side effects it triggers.
func TasksFor(ev appointment.Event) []Task {
	a := ev.Appointment
	switch ev.Kind {
	case appointment.EventRequested:
		return []Task{notifyTask(ev, a.DoctorID)}
	case appointment.EventConfirmed:
		return []Task{notifyTask(ev, a.DoctorID), notifyTask(ev, a.PatientID)}
	case appointment.EventRejected, appointment.EventExpired:
		return []Task{notifyTask(ev, a.PatientID)}
	case appointment.EventCancelled:
		switch ev.ActorID {
		case a.PatientID:
			return []Task{notifyTask(ev, a.DoctorID)}
		case a.DoctorID:
			return []Task{notifyTask(ev, a.PatientID)}
		default:
			return []Task{notifyTask(ev, a.DoctorID), notifyTask(ev, a.PatientID)}
		}
	case appointment.EventRescheduled:
		// Keyed by the new slot so a second move notifies again.
		tasks := []Task{notifyTask(ev, a.PatientID)}
		if ev.ActorID != a.DoctorID {
			tasks = append(tasks, notifyTask(ev, a.DoctorID))
		}
		for i := range tasks {
			tasks[i].Key += ":" + a.SlotID.String()
		}
		return tasks
	case appointment.EventCompleted:
		return []Task{{
			Key:   fmt.Sprintf("%s:%s:records", a.ID, ev.Kind),
			Kind:  TaskSeedConsultation,
			Event: ev,
		}}
	}
	return nil
}

func payloadFor(a appointment.Appointment) notify.Payload {
	p := notify.Payload{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		Status:        string(a.Status),
		Date:          a.Date.Format(calendar.DateLayout),
		Start:         a.StartTime,
		End:           a.EndTime,
		Reason:        a.Reason,
	}
	if a.StatusReason != nil {
		p.StatusReason = *a.StatusReason
	}
	return p
}

func seedRequestFor(a appointment.Appointment) records.SeedRequest {
	return records.SeedRequest{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		Reason:        a.Reason,
		Date:          a.Date.Format(calendar.DateLayout),
	}
}
