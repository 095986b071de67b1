package descriptor

// Built-in school entity types.
const (
	Teachers   = "teachers"
	Students   = "students"
	Classes    = "classes"
	Attendance = "attendance"
	Grades     = "grades"
)

// AttendanceStatuses are the allowed attendance status values.
var AttendanceStatuses = []string{"present", "absent", "tardy", "excused", "late"}

// GradeTypes are the allowed grade_type values.
var GradeTypes = []string{"assignment", "quiz", "exam", "project", "participation", "homework"}

var (
	text     = FieldSpec{Kind: KindString}
	email    = FieldSpec{Kind: KindEmail}
	flag     = FieldSpec{Kind: KindBool}
	ref      = FieldSpec{Kind: KindUUID}
	day      = FieldSpec{Kind: KindDate}
	pastDay  = FieldSpec{Kind: KindDate, NotFuture: true}
	texts    = FieldSpec{Kind: KindList, Elem: KindString}
	count    = FieldSpec{Kind: KindNumber, Min: Bound(0)}
	document = FieldSpec{Kind: KindJSON}
)

// with merges field sets; later sets win.
func with(sets ...map[string]FieldSpec) map[string]FieldSpec {
	out := make(map[string]FieldSpec)
	for _, set := range sets {
		for name, spec := range set {
			out[name] = spec
		}
	}
	return out
}

// contact returns name/relationship/phone/email fields under prefix.
func contact(prefix string) map[string]FieldSpec {
	return map[string]FieldSpec{
		prefix + "_name":         text,
		prefix + "_relationship": text,
		prefix + "_phone":        text,
		prefix + "_email":        email,
	}
}

var person = map[string]FieldSpec{
	"user_id":             ref,
	"first_name":          text,
	"last_name":           text,
	"middle_name":         text,
	"preferred_name":      text,
	"email":               email,
	"phone":               text,
	"primary_email":       email,
	"primary_phone":       text,
	"profile_picture_url": text,
}

// Builtins returns the school descriptors shipped with the engine.
func Builtins() map[string]Descriptor {
	return map[string]Descriptor{
		Teachers: {
			RequiredFields: []string{"employee_id", "first_name", "last_name", "email"},
			UniqueKeys:     [][]string{{"employee_id"}},
			Fields: with(person, map[string]FieldSpec{
				"employee_id":         text,
				"title":               text,
				"department":          text,
				"employment_type":     {Kind: KindEnum, Values: []string{"full_time", "part_time", "contract", "substitute"}},
				"hire_date":           pastDay,
				"status":              {Kind: KindEnum, Values: []string{"active", "inactive", "on_leave", "terminated"}},
				"subjects":            texts,
				"subjects_taught":     texts,
				"grade_levels_taught": texts,
				"qualifications":      texts,
				"certifications":      texts,
				"years_experience":    count,
				"office_location":     text,
				"office_hours":        text,
				"bio":                 text,
			}),
		},
		Students: {
			RequiredFields: []string{"student_number", "first_name", "last_name", "grade_level"},
			UniqueKeys:     [][]string{{"student_number"}},
			Fields: with(person,
				contact("emergency_contact_1"), contact("emergency_contact_2"),
				contact("parent_guardian_1"), contact("parent_guardian_2"),
				map[string]FieldSpec{
					"student_number":           text,
					"date_of_birth":            pastDay,
					"gender":                   text,
					"grade_level":              text,
					"enrollment_date":          day,
					"graduation_date":          day,
					"status":                   {Kind: KindEnum, Values: []string{"active", "graduated", "transferred", "withdrawn", "suspended"}},
					"academic_program":         text,
					"address":                  text,
					"city":                     text,
					"state":                    text,
					"postal_code":              text,
					"country":                  text,
					"medical_conditions":       text,
					"allergies":                text,
					"medications":              text,
					"medical_insurance":        text,
					"medical_insurance_number": text,
					"physician_name":           text,
					"physician_phone":          text,
					"gpa":                      {Kind: KindNumber, Min: Bound(0), Max: Bound(5)},
					"credits_earned":           count,
					"credits_required":         count,
					"class_rank":               {Kind: KindNumber, Min: Bound(1)},
					"graduation_plan":          text,
					"special_education":        flag,
					"iep":                      flag,
					"section_504":              flag,
					"ell":                      flag,
					"gifted":                   flag,
					"transportation_method":    text,
					"bus_route":                text,
					"bus_stop":                 text,
					"documents":                {Kind: KindList, Elem: KindJSON},
					"privacy_level":            {Kind: KindEnum, Values: []string{"standard", "restricted", "public"}},
					"data_sharing_consent":     flag,
					"photo_release":            flag,
				}),
		},
		Classes: {
			RequiredFields: []string{"code", "name"},
			UniqueKeys:     [][]string{{"code"}},
			Fields: map[string]FieldSpec{
				"code":               text,
				"name":               text,
				"description":        text,
				"course_id":          text,
				"section_number":     text,
				"subject":            text,
				"grade_level":        text,
				"academic_year":      text,
				"semester":           text,
				"credits":            count,
				"teacher_id":         ref,
				"room_number":        text,
				"building":           text,
				"schedule":           document,
				"max_students":       {Kind: KindNumber, Positive: true},
				"current_enrollment": count,
				"prerequisites":      texts,
				"start_date":         day,
				"end_date":           day,
				"status":             {Kind: KindEnum, Values: []string{"active", "inactive", "completed", "cancelled"}},
			},
		},
		Attendance: {
			RequiredFields:       []string{"student_id", "class_id", "attendance_date", "status"},
			UniqueKeys:           [][]string{{"student_id", "class_id", "attendance_date", "period"}},
			ActorReferenceFields: []string{"marked_by"},
			Fields: map[string]FieldSpec{
				"student_id":      ref,
				"class_id":        ref,
				"attendance_date": pastDay,
				"period":          text,
				"status":          {Kind: KindEnum, Values: AttendanceStatuses},
				"reason":          text,
				"notes":           text,
				"is_excused":      flag,
				"excused":         flag,
				"tardy":           flag,
				"early_dismissal": flag,
				"marked_by":       ref,
			},
		},
		Grades: {
			RequiredFields:       []string{"student_id", "class_id", "assignment_name", "points_possible", "points_earned"},
			ActorReferenceFields: []string{"graded_by"},
			Fields: map[string]FieldSpec{
				"student_id":      ref,
				"class_id":        ref,
				"assignment_id":   text,
				"assignment_name": text,
				"assignment_type": text,
				"grade_type":      {Kind: KindEnum, Values: GradeTypes},
				"category":        text,
				"points_possible": {Kind: KindNumber, Positive: true},
				"points_earned":   count,
				"percentage":      count,
				"letter_grade":    text,
				"weight":          count,
				"assigned_date":   day,
				"due_date":        day,
				"submitted_date":  pastDay,
				"graded_date":     pastDay,
				"comments":        text,
				"is_excused":      flag,
				"is_late":         flag,
				"graded_by":       ref,
			},
		},
	}
}

// RegisterBuiltins registers every built-in descriptor in r.
func RegisterBuiltins(r *Registry) error {
	builtins := Builtins()
	for _, name := range []string{Teachers, Students, Classes, Attendance, Grades} {
		if err := r.Register(name, builtins[name]); err != nil {
			return err
		}
	}
	return nil
}
