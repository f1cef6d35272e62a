package directory

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Wire schema of the users service:
//
//	service UserService {
//	  rpc GetUserByEmail(GetUserByEmailRequest) returns (GetUserByEmailResponse);
//	  rpc CreateUserByEmail(GetUserByEmailRequest) returns (GetUserByEmailResponse);
//	}
//	message GetUserByEmailRequest  { string email = 1; }
//	message GetUserByEmailResponse { string id = 1; bool is_active = 2; bool is_verified = 3; }
const (
	ServiceName             = "users.UserService"
	MethodGetUserByEmail    = "/" + ServiceName + "/GetUserByEmail"
	MethodCreateUserByEmail = "/" + ServiceName + "/CreateUserByEmail"
)

type schema struct {
	request  protoreflect.MessageDescriptor
	response protoreflect.MessageDescriptor

	email      protoreflect.FieldDescriptor
	id         protoreflect.FieldDescriptor
	isActive   protoreflect.FieldDescriptor
	isVerified protoreflect.FieldDescriptor
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
	}
}

func buildSchema() (*schema, error) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("users_service.proto"),
		Package: proto.String("users"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name:  proto.String("GetUserByEmailRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{field("email", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING)},
			},
			{
				Name: proto.String("GetUserByEmailResponse"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					field("is_active", 2, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
					field("is_verified", 3, descriptorpb.FieldDescriptorProto_TYPE_BOOL),
				},
			},
		},
	}
	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		return nil, err
	}
	req := fd.Messages().ByName("GetUserByEmailRequest")
	resp := fd.Messages().ByName("GetUserByEmailResponse")
	return &schema{
		request:    req,
		response:   resp,
		email:      req.Fields().ByName("email"),
		id:         resp.Fields().ByName("id"),
		isActive:   resp.Fields().ByName("is_active"),
		isVerified: resp.Fields().ByName("is_verified"),
	}, nil
}

func (s *schema) newRequest(email string) *dynamicpb.Message {
	m := dynamicpb.NewMessage(s.request)
	m.Set(s.email, protoreflect.ValueOfString(email))
	return m
}

func (s *schema) newResponse() *dynamicpb.Message {
	return dynamicpb.NewMessage(s.response)
}

func (s *schema) requestEmail(m *dynamicpb.Message) string {
	return m.Get(s.email).String()
}

func (s *schema) encodeUser(u *User) *dynamicpb.Message {
	m := s.newResponse()
	m.Set(s.id, protoreflect.ValueOfString(u.ID))
	m.Set(s.isActive, protoreflect.ValueOfBool(u.IsActive))
	m.Set(s.isVerified, protoreflect.ValueOfBool(u.IsVerified))
	return m
}

func (s *schema) decodeUser(m *dynamicpb.Message) *User {
	return &User{
		ID:         m.Get(s.id).String(),
		IsActive:   m.Get(s.isActive).Bool(),
		IsVerified: m.Get(s.isVerified).Bool(),
	}
}
