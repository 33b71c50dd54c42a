// Command portal is the device-side client: it keeps the session in the
// encrypted local store and talks to portal-server over gRPC.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"healthcare-portal/internal/appointments"
	"healthcare-portal/internal/biometric"
	"healthcare-portal/internal/codec"
	"healthcare-portal/internal/compliance"
	"healthcare-portal/internal/config"
	"healthcare-portal/internal/identity"
	"healthcare-portal/internal/logging"
	"healthcare-portal/internal/model"
	"healthcare-portal/internal/notify"
	"healthcare-portal/internal/rpc"
	"healthcare-portal/internal/securestore"
	"healthcare-portal/internal/session"
)

const usage = `usage: portal <command> [flags]

commands:
  signup      register a new account
  login       sign in with email and password
  logout      sign out and wipe stored credentials
  exit        wipe stored credentials only
  whoami      show the restored session
  book        request an appointment
  status      change an appointment's status
  get         show one appointment
  upcoming    list upcoming appointments
  watch       stream appointment changes until interrupted
  remind      raise an appointment reminder
  encrypt     obfuscate text with the device key
  decrypt     reverse encrypt
  biometrics  on|off
`

type app struct {
	client   *rpc.Client
	sessions *session.Manager
	appts    *appointments.Service
	notes    *notify.Dispatcher
	codec    *codec.Codec
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	log, err := logging.New(cfg.LogLevel, "console", "portal")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger, cmd string, args []string) error {
	backend, err := securestore.OpenLevelDB(cfg.SecureStorePath, []byte(cfg.DeviceSecret))
	if err != nil {
		return fmt.Errorf("secure store: %w", err)
	}
	defer backend.Close()
	creds := securestore.New(backend, log)

	client, err := rpc.Dial(cfg.RemoteAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	audit := compliance.NewLogger(compliance.MultiSink{
		compliance.NewZapSink(log),
		compliance.NewDocSink(client),
	}, log)
	// drains pending audit writes before the connection closes
	defer audit.Close()

	gate := biometric.NewGate(&terminalBiometrics{in: bufio.NewReader(os.Stdin), out: os.Stdout}, log)
	a := &app{
		client:   client,
		sessions: session.New(identity.NewProvider(client), client, creds, audit, gate, log),
		appts:    appointments.New(client, log, appointments.WithTimeout(cfg.RemoteTimeout)),
		notes:    notify.NewDispatcher(newConsoleNotifications(os.Stdout), client, log),
		codec:    codec.New(creds),
	}
	a.notes.InitCategories(ctx)

	switch cmd {
	case "signup":
		return a.signup(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "logout":
		// the LOGOUT audit entry is written with the outgoing token
		if id, ok := a.sessions.Restore(ctx); ok {
			a.client.SetToken(id.Token)
		}
		a.sessions.Logout(ctx)
		fmt.Println("signed out")
		return nil
	case "exit":
		a.sessions.Exit(ctx)
		fmt.Println("local credentials cleared")
		return nil
	case "whoami":
		id, err := a.restore(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n", id.UID, id.Role)
		return nil
	case "book":
		return a.book(ctx, args)
	case "status":
		return a.status(ctx, args)
	case "get":
		return a.get(ctx, args)
	case "upcoming":
		return a.upcoming(ctx)
	case "watch":
		return a.watch(ctx)
	case "remind":
		return a.remind(ctx, args)
	case "encrypt", "decrypt":
		return a.crypt(ctx, cmd, args)
	case "biometrics":
		return a.biometrics(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

var errNoSession = errors.New("not signed in")

// restore loads the stored session, runs the biometric gate when enabled
// and attaches the token to outgoing calls.
func (a *app) restore(ctx context.Context) (identity.Identity, error) {
	id, ok := a.sessions.Restore(ctx)
	if !ok {
		return identity.Identity{}, errNoSession
	}
	if !a.sessions.Unlock(ctx) {
		return identity.Identity{}, errors.New("biometric check failed")
	}
	a.client.SetToken(id.Token)
	return id, nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	confirm := fs.String("confirm", "", "password confirmation")
	name := fs.String("name", "", "display name")
	phone := fs.String("phone", "", "phone number")
	role := fs.String("role", string(model.RolePatient), "patient or doctor")
	fs.Parse(args)

	id, err := a.sessions.SignUp(ctx, identity.SignUpRequest{
		Email:    *email,
		Password: *password,
		Name:     *name,
		Phone:    *phone,
		Role:     model.Role(*role),
	}, *confirm)
	if err != nil {
		return err
	}
	a.registerPush(ctx, id.UID)
	fmt.Printf("registered %s as %s\n", id.UID, id.Role)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	fs.Parse(args)

	id, err := a.sessions.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	a.registerPush(ctx, id.UID)
	fmt.Printf("welcome %s (%s)\n", id.Name, id.Role)
	return nil
}

func (a *app) registerPush(ctx context.Context, uid string) {
	if tok := a.notes.RegisterForPush(ctx); tok != "" {
		a.notes.SavePushToken(ctx, uid, tok)
	}
}

func (a *app) book(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("book", flag.ExitOnError)
	doctor := fs.String("doctor", "", "doctor user id")
	date := fs.String("date", "", "start time, RFC3339")
	duration := fs.Int("duration", 30, "minutes")
	kind := fs.String("type", string(model.TypeConsultation), "consultation, follow-up or emergency")
	notes := fs.String("notes", "", "notes for the doctor")
	fs.Parse(args)

	id, err := a.restore(ctx)
	if err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339, *date)
	if err != nil {
		return fmt.Errorf("bad -date: %w", err)
	}
	apptID, err := a.appts.Create(ctx, model.Appointment{
		PatientID: id.UID,
		DoctorID:  *doctor,
		Date:      at,
		Duration:  *duration,
		Type:      model.AppointmentType(*kind),
		Notes:     *notes,
	})
	if err != nil {
		return err
	}
	fmt.Println(apptID)
	return nil
}

func (a *app) status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	apptID := fs.String("id", "", "appointment id")
	st := fs.String("status", "", "new status")
	fs.Parse(args)

	id, err := a.restore(ctx)
	if err != nil {
		return err
	}
	return a.appts.UpdateStatus(ctx, *apptID, model.Status(*st), id.UID)
}

func (a *app) get(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	apptID := fs.String("id", "", "appointment id")
	fs.Parse(args)

	if _, err := a.restore(ctx); err != nil {
		return err
	}
	appt := a.appts.GetByID(ctx, *apptID)
	if appt == nil {
		return fmt.Errorf("appointment %s not found", *apptID)
	}
	printAppointments([]model.Appointment{*appt})
	return nil
}

func (a *app) upcoming(ctx context.Context) error {
	id, err := a.restore(ctx)
	if err != nil {
		return err
	}
	printAppointments(a.appts.GetUpcoming(ctx, id.UID, id.Role))
	return nil
}

func (a *app) watch(ctx context.Context) error {
	id, err := a.restore(ctx)
	if err != nil {
		return err
	}
	unsub, err := a.appts.Subscribe(ctx, id.UID, id.Role, func(list []model.Appointment) {
		fmt.Printf("--- %s: %d appointments\n", time.Now().Format(time.Kitchen), len(list))
		printAppointments(list)
	})
	if err != nil {
		return err
	}
	defer unsub()
	<-ctx.Done()
	return nil
}

func (a *app) remind(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remind", flag.ExitOnError)
	apptID := fs.String("id", "", "appointment id")
	doctor := fs.String("doctor", "", "doctor name")
	patient := fs.String("patient", "", "patient name")
	minutes := fs.Int("minutes", 60, "minutes until the appointment")
	fs.Parse(args)

	if a.notes.SendAppointmentReminder(ctx, *apptID, *doctor, *patient, *minutes) == "" {
		return errors.New("reminder not delivered")
	}
	return nil
}

func (a *app) crypt(ctx context.Context, op string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%s needs the text as an argument", op)
	}
	text := strings.Join(args, " ")
	var (
		out string
		err error
	)
	if op == "encrypt" {
		out, err = a.codec.Encrypt(ctx, text)
	} else {
		out, err = a.codec.Decrypt(ctx, text)
	}
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func (a *app) biometrics(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return errors.New("usage: portal biometrics on|off")
	}
	if !a.sessions.SetBiometrics(ctx, args[0] == "on") {
		return errors.New("biometrics are not available on this device")
	}
	fmt.Println("biometrics", args[0])
	return nil
}

func printAppointments(list []model.Appointment) {
	if len(list) == 0 {
		fmt.Println("no appointments")
		return
	}
	for _, a := range list {
		fmt.Printf("%s  %s  %-11s  %-12s  patient=%s doctor=%s\n",
			a.ID, a.Date.Local().Format("2006-01-02 15:04"), a.Status, a.Type, a.PatientID, a.DoctorID)
	}
}
