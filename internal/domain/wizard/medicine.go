package wizard

import "strconv"

// Medicine-add flow: four steps. Saving is allowed early from the dosing
// step or at full completion; both paths submit the same validated form.
const (
	MedicineStepIdentity = 1
	MedicineStepSchedule = 2
	MedicineStepDosing   = 3
	MedicineStepReminder = 4
)

// MedicineDefinition returns the step definition of the medicine-add flow.
func MedicineDefinition() Definition {
	return Definition{
		Kind:  "medicine",
		Steps: 4,
		Validators: map[int]Validator{
			MedicineStepIdentity: validateMedicineIdentity,
			MedicineStepSchedule: validateMedicineSchedule,
			MedicineStepDosing:   validateMedicineDosing,
		},
		SaveSteps: map[int]bool{
			MedicineStepDosing:   true,
			MedicineStepReminder: true,
		},
		Defaults: map[string]string{
			"reminder_enabled": "false",
		},
	}
}

func validateMedicineIdentity(form map[string]string) map[string]string {
	errs := map[string]string{}
	if form["name"] == "" {
		errs["name"] = "medicine name is required"
	}
	if form["strength"] == "" {
		errs["strength"] = "strength is required"
	}
	if form["doctor_id"] != "" {
		if _, err := strconv.ParseInt(form["doctor_id"], 10, 64); err != nil {
			errs["doctor_id"] = "doctor id must be a number"
		}
	}
	return errs
}

func validateMedicineSchedule(form map[string]string) map[string]string {
	errs := map[string]string{}
	if form["frequency"] == "" {
		errs["frequency"] = "frequency is required"
	}
	if form["start_date"] == "" {
		errs["start_date"] = "start date is required"
	}
	return errs
}

func validateMedicineDosing(form map[string]string) map[string]string {
	errs := map[string]string{}
	if form["dose"] == "" {
		errs["dose"] = "dose is required"
	}
	if form["dose"] != "" {
		if v, err := strconv.ParseFloat(form["dose"], 64); err != nil || v <= 0 {
			errs["dose"] = "dose must be a positive number"
		}
	}
	return errs
}
